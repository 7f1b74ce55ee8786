package eval

import (
	"context"
	"testing"
	"time"

	"github.com/TurBoss/construct"
	"github.com/TurBoss/construct/eventindex"
	"github.com/TurBoss/construct/kv"
	"github.com/TurBoss/construct/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ed25519"
)

// alwaysVerifier treats every signature as present and valid, so these
// tests exercise conformance/hash/auth/commit logic without standing up
// a real KeyFetcher.
type alwaysVerifier struct{}

func (alwaysVerifier) VerifyJSONs(ctx context.Context, requests []construct.VerifyJSONRequest) ([]construct.VerifyJSONResult, error) {
	results := make([]construct.VerifyJSONResult, len(requests))
	return results, nil
}

func newPipeline(t *testing.T) (*Pipeline, kv.Store) {
	t.Helper()
	store := kv.NewMemory()
	return New(store, eventindex.New(store), state.New(store), alwaysVerifier{}, nil), store
}

func buildSignedEvent(t *testing.T, eb construct.EventBuilder) construct.Event {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	ev, err := eb.Build(time.Now(), "example.org", "ed25519:1", priv, construct.RoomVersionV5)
	require.NoError(t, err)
	return ev
}

func TestEvalAcceptsCreateEvent(t *testing.T) {
	ctx := context.Background()
	p, _ := newPipeline(t)

	eb := construct.EventBuilder{
		Sender:     "@alice:example.org",
		RoomID:     "!room:example.org",
		Type:       construct.MRoomCreate,
		StateKey:   strPtr(""),
		Depth:      1,
		PrevEvents: []string{},
		AuthEvents: []string{},
	}
	require.NoError(t, eb.SetContent(map[string]string{"creator": "@alice:example.org"}))
	ev := buildSignedEvent(t, eb)

	outcome, err := p.Eval(ctx, &ev, Options{})
	require.NoError(t, err)
	assert.Equal(t, Accepted, outcome)

	root, err := p.RoomHead(ctx, "!room:example.org")
	require.NoError(t, err)
	assert.NotEmpty(t, root)

	got, err := p.Tree.Get(ctx, root, state.MakeKey(construct.MRoomCreate, ""))
	require.NoError(t, err)
	assert.Equal(t, ev.EventID(), got)
}

func TestEvalIsIdempotent(t *testing.T) {
	ctx := context.Background()
	p, _ := newPipeline(t)

	eb := construct.EventBuilder{
		Sender:     "@alice:example.org",
		RoomID:     "!room:example.org",
		Type:       construct.MRoomCreate,
		StateKey:   strPtr(""),
		Depth:      1,
		PrevEvents: []string{},
		AuthEvents: []string{},
	}
	require.NoError(t, eb.SetContent(map[string]string{"creator": "@alice:example.org"}))
	ev := buildSignedEvent(t, eb)

	outcome, err := p.Eval(ctx, &ev, Options{})
	require.NoError(t, err)
	assert.Equal(t, Accepted, outcome)

	outcome, err = p.Eval(ctx, &ev, Options{})
	require.NoError(t, err)
	assert.Equal(t, AlreadyPresent, outcome)
}

func TestEvalRejectsNonConformingEvent(t *testing.T) {
	ctx := context.Background()
	p, _ := newPipeline(t)

	eb := construct.EventBuilder{
		Sender:     "@alice:example.org",
		RoomID:     "!room:example.org",
		Type:       "m.room.message",
		Depth:      0, // DEPTH_ZERO on a non-create event
		PrevEvents: []string{},
		AuthEvents: []string{},
	}
	require.NoError(t, eb.SetContent(map[string]string{"body": "hi"}))
	ev := buildSignedEvent(t, eb)

	_, err := p.Eval(ctx, &ev, Options{})
	require.Error(t, err)
	var confErr construct.ConformanceError
	require.ErrorAs(t, err, &confErr)
	assert.True(t, confErr.Conforms.Has(construct.DepthZero))
}

func strPtr(s string) *string { return &s }

package conf

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/TurBoss/construct"
	"github.com/TurBoss/construct/eval"
	"github.com/TurBoss/construct/eventindex"
	"github.com/TurBoss/construct/kv"
	"github.com/TurBoss/construct/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ed25519"
)

type alwaysVerifier struct{}

func (alwaysVerifier) VerifyJSONs(ctx context.Context, requests []construct.VerifyJSONRequest) ([]construct.VerifyJSONResult, error) {
	return make([]construct.VerifyJSONResult, len(requests)), nil
}

func newTestRegistry(t *testing.T) (*Registry, *eval.Pipeline) {
	t.Helper()
	store := kv.NewMemory()
	pipe := eval.New(store, eventindex.New(store), state.New(store), alwaysVerifier{}, nil)
	// The !conf room is a local system room outside normal room auth
	// (modules/s_conf.cc sends directly via send(), bypassing auth-chain
	// checks that assume a joined membership) so the test pipeline skips
	// the Authorizer the way a real conf-room writer would.
	pipe.Authorizer = nil
	return New("!conf:example.org", pipe.Tree, pipe), pipe
}

func TestRegisterDefaultsAndGet(t *testing.T) {
	r, _ := newTestRegistry(t)
	r.Register("ircd.net.buffer.size", TypeInt, "65536")

	v, ok := r.Get("ircd.net.buffer.size")
	require.True(t, ok)
	assert.Equal(t, "65536", v)

	_, ok = r.Get("ircd.unknown.item")
	assert.False(t, ok)
}

func TestLoadYAMLOverridesDefault(t *testing.T) {
	r, _ := newTestRegistry(t)
	r.Register("ircd.net.buffer.size", TypeInt, "65536")

	dir := t.TempDir()
	path := filepath.Join(dir, "bootstrap.yaml")
	require.NoError(t, os.WriteFile(path, []byte("ircd.net.buffer.size: \"131072\"\n"), 0600))

	require.NoError(t, r.LoadYAML(path))
	v, ok := r.Get("ircd.net.buffer.size")
	require.True(t, ok)
	assert.Equal(t, "131072", v)
}

func TestLoadYAMLMissingFileIsNotAnError(t *testing.T) {
	r, _ := newTestRegistry(t)
	r.Register("ircd.net.buffer.size", TypeInt, "65536")
	require.NoError(t, r.LoadYAML(filepath.Join(t.TempDir(), "missing.yaml")))
}

func TestRehashPicksUpRoomState(t *testing.T) {
	ctx := context.Background()
	r, pipe := newTestRegistry(t)
	r.Register("ircd.name", TypeString, "unset")

	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	create := construct.EventBuilder{
		Sender:     "@admin:example.org",
		RoomID:     "!conf:example.org",
		Type:       construct.MRoomCreate,
		StateKey:   new(string),
		Depth:      1,
		PrevEvents: []string{},
		AuthEvents: []string{},
	}
	require.NoError(t, create.SetContent(map[string]string{"creator": "@admin:example.org"}))
	createEv, err := create.Build(time.Now(), "example.org", "ed25519:1", priv, construct.RoomVersionV5)
	require.NoError(t, err)
	_, err = pipe.Eval(ctx, &createEv, eval.Options{})
	require.NoError(t, err)

	eb := BuildSetEvent("!conf:example.org", "@admin:example.org", "ircd.name", "my-homeserver")
	eb.Depth = 2
	eb.PrevEvents = []string{createEv.EventID()}
	eb.AuthEvents = []string{}
	ev, err := eb.Build(time.Now(), "example.org", "ed25519:1", priv, construct.RoomVersionV5)
	require.NoError(t, err)

	outcome, err := pipe.Eval(ctx, &ev, eval.Options{})
	require.NoError(t, err)
	require.Equal(t, eval.Accepted, outcome)

	require.NoError(t, r.Rehash(ctx))
	v, ok := r.Get("ircd.name")
	require.True(t, ok)
	assert.Equal(t, "my-homeserver", v)
}

func TestOnInitRunsForExistingAndFutureItems(t *testing.T) {
	r, _ := newTestRegistry(t)
	r.Register("ircd.a", TypeString, "1")

	var seen []string
	r.OnInit(func(item *Item) { seen = append(seen, item.Name) })
	r.Register("ircd.b", TypeString, "2")

	assert.ElementsMatch(t, []string{"ircd.a", "ircd.b"}, seen)
}

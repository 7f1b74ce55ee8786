// Package federation implements the C8 federation collectives: fan-out
// helpers that enumerate a room's remote origin servers, issue one
// request per origin with a per-request timeout, and aggregate results
// under an overall deadline via golang.org/x/sync/errgroup.
package federation

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/TurBoss/construct"
)

// Transaction is the body of a federation /send transaction: a batch of
// PDUs (and optionally EDUs, not modelled here) pushed from one server to
// another.
type Transaction struct {
	Origin         construct.ServerName `json:"origin"`
	OriginServerTS construct.Timestamp  `json:"origin_server_ts"`
	PDUs           []construct.RawJSON  `json:"pdus"`
}

// RespStateIDs is the response to GET /_matrix/federation/v1/state_ids.
type RespStateIDs struct {
	StateEventIDs []string `json:"pdu_ids"`
	AuthEventIDs  []string `json:"auth_chain_ids"`
}

// RespEventAuth is the response to GET /_matrix/federation/v1/event_auth.
type RespEventAuth struct {
	AuthEvents []construct.RawJSON `json:"auth_chain"`
}

// RespBackfillIDs is the response body of GET backfill_ids: up to `limit`
// event ids walking the room messages iterator backward from `v`.
type RespBackfillIDs struct {
	PDUIDs []string `json:"pdu_ids"`
}

// RespSendJoin is the response to PUT send_join: the four canonical
// ancestors and the room's current state.
type RespSendJoin struct {
	AuthChain []construct.RawJSON `json:"auth_chain"`
	State     []construct.RawJSON `json:"state"`
}

// DNSResult is the resolved set of addresses a matrix ServerName should
// be dialed at, per the federation server discovery algorithm (SRV
// lookup of _matrix._tcp.<host>, falling back to A/AAAA on <host>:8448).
type DNSResult struct {
	Host  string
	Addrs []string
}

// LookupServer resolves a federation ServerName to a set of dialable
// host:port addresses. This is a supplemented feature: the distilled core
// spec treats federation transport as an external collaborator, but any
// federation client needs this to do anything at all.
func LookupServer(host string) (*DNSResult, error) {
	if h, port, err := net.SplitHostPort(host); err == nil {
		ips, err := net.LookupHost(h)
		if err != nil {
			return nil, err
		}
		return addrResult(host, ips, port), nil
	}

	if ip := net.ParseIP(host); ip != nil {
		return addrResult(host, []string{host}, "8448"), nil
	}

	_, srvs, err := net.LookupSRV("matrix", "tcp", host)
	if err == nil && len(srvs) > 0 {
		var addrs []string
		for _, srv := range srvs {
			target := strings.TrimSuffix(srv.Target, ".")
			ips, err := net.LookupHost(target)
			if err != nil {
				continue
			}
			port := strconv.Itoa(int(srv.Port))
			for _, ip := range ips {
				addrs = append(addrs, net.JoinHostPort(ip, port))
			}
		}
		if len(addrs) > 0 {
			return &DNSResult{Host: host, Addrs: addrs}, nil
		}
	}

	ips, err := net.LookupHost(host)
	if err != nil {
		return nil, fmt.Errorf("federation: no address found for matrix host %q: %w", host, err)
	}
	return addrResult(host, ips, "8448"), nil
}

func addrResult(host string, ips []string, port string) *DNSResult {
	addrs := make([]string, 0, len(ips))
	for _, ip := range ips {
		addrs = append(addrs, net.JoinHostPort(ip, port))
	}
	return &DNSResult{Host: host, Addrs: addrs}
}

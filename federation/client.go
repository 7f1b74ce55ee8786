/* Copyright 2016-2017 Vector Creations Ltd
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package federation

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/TurBoss/construct"
)

// A Client makes requests to the federation listeners of matrix
// homeservers, resolving each request's host through LookupServer rather
// than plain DNS A-record lookup.
type Client struct {
	client http.Client
}

// UserInfo represents information about a user, as returned from the
// OpenID userinfo endpoint.
type UserInfo struct {
	Sub string `json:"sub"`
}

// NewClient makes a new Client.
func NewClient() *Client {
	tripper := federationTripper{
		transport: &http.Transport{
			// Set our own DialTLS function to avoid the default net/http SNI.
			// By default net/http and crypto/tls set the SNI to the target host.
			// By avoiding the default implementation we can keep the ServerName
			// as the empty string so that crypto/tls doesn't add SNI.
			DialTLS: func(network, addr string) (net.Conn, error) {
				rawconn, err := net.Dial(network, addr)
				if err != nil {
					return nil, err
				}
				conn := tls.Client(rawconn, &tls.Config{
					ServerName:         "",
					InsecureSkipVerify: true, // certificate pinning happens at the key-verification layer, not TLS
				})
				if err := conn.Handshake(); err != nil {
					return nil, err
				}
				return conn, nil
			},
		},
	}

	return &Client{
		client: http.Client{Transport: &tripper},
	}
}

type federationTripper struct {
	transport http.RoundTripper
}

func makeHTTPSURL(u *url.URL, addr string) (httpsURL url.URL) {
	httpsURL = *u
	httpsURL.Scheme = "https"
	httpsURL.Host = addr
	return
}

func (f *federationTripper) RoundTrip(r *http.Request) (*http.Response, error) {
	host := r.URL.Host
	dnsResult, err := LookupServer(host)
	if err != nil {
		return nil, err
	}
	var resp *http.Response
	for _, addr := range dnsResult.Addrs {
		u := makeHTTPSURL(r.URL, addr)
		r.URL = &u
		resp, err = f.transport.RoundTrip(r)
		if err == nil {
			return resp, nil
		}
	}
	return nil, fmt.Errorf("federation: no address found for matrix host %v", host)
}

// LookupUserInfo gets information about a user from a given matrix homeserver
// using a bearer access token.
func (fc *Client) LookupUserInfo(matrixServer, token string) (u UserInfo, err error) {
	reqURL := url.URL{
		Scheme:   "matrix",
		Host:     matrixServer,
		Path:     "/_matrix/federation/v1/openid/userinfo",
		RawQuery: url.Values{"access_token": []string{token}}.Encode(),
	}

	var response *http.Response
	response, err = fc.client.Get(reqURL.String())
	if response != nil {
		defer response.Body.Close()
	}
	if err != nil {
		return
	}
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		var errorOutput []byte
		errorOutput, err = ioutil.ReadAll(response.Body)
		if err != nil {
			return
		}
		err = fmt.Errorf("HTTP %d : %s", response.StatusCode, errorOutput)
		return
	}

	if err = json.NewDecoder(response.Body).Decode(&u); err != nil {
		return
	}

	userParts := strings.SplitN(u.Sub, ":", 2)
	if len(userParts) != 2 || userParts[1] != matrixServer {
		err = fmt.Errorf("userID doesn't match server name '%v' != '%v'", u.Sub, matrixServer)
		return
	}

	return
}

// ServerKeys looks up the keys for a matrix server from a matrix server.
func (fc *Client) ServerKeys(
	matrixServer string, keyRequests map[construct.PublicKeyRequest]construct.Timestamp,
) (map[construct.PublicKeyRequest]construct.ServerKeys, error) {
	reqURL := url.URL{
		Scheme: "matrix",
		Host:   matrixServer,
		Path:   "/_matrix/key/v2/query",
	}

	type keyreq struct {
		MinimumValidUntilTS construct.Timestamp `json:"minimum_valid_until_ts"`
	}
	request := struct {
		ServerKeys map[string]map[string]keyreq `json:"server_keys"`
	}{map[string]map[string]keyreq{}}
	for k, ts := range keyRequests {
		server := request.ServerKeys[string(k.ServerName)]
		if server == nil {
			server = map[string]keyreq{}
			request.ServerKeys[string(k.ServerName)] = server
		}
		server[string(k.KeyID)] = keyreq{ts}
	}

	requestBytes, err := json.Marshal(request)
	if err != nil {
		return nil, err
	}

	response, err := fc.client.Post(reqURL.String(), "application/json", bytes.NewBuffer(requestBytes))
	if response != nil {
		defer response.Body.Close()
	}
	if err != nil {
		return nil, err
	}

	if response.StatusCode != 200 {
		var errorOutput []byte
		if errorOutput, err = ioutil.ReadAll(response.Body); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("HTTP %d : %s", response.StatusCode, errorOutput)
	}

	var body struct {
		ServerKeys []construct.ServerKeys `json:"server_keys"`
	}
	if err = json.NewDecoder(response.Body).Decode(&body); err != nil {
		return nil, err
	}

	result := map[construct.PublicKeyRequest]construct.ServerKeys{}
	for _, keys := range body.ServerKeys {
		for keyID := range keys.VerifyKeys {
			result[construct.PublicKeyRequest{ServerName: keys.ServerName, KeyID: keyID}] = keys
		}
		for keyID := range keys.OldVerifyKeys {
			result[construct.PublicKeyRequest{ServerName: keys.ServerName, KeyID: keyID}] = keys
		}
	}
	return result, nil
}

// FetchKeys implements construct.KeyFetcher by calling ServerKeys once per
// distinct server name among the requested (server, keyID) pairs.
func (fc *Client) FetchKeys(
	ctx context.Context,
	requests map[construct.PublicKeyRequest]construct.Timestamp,
) (map[construct.PublicKeyRequest]construct.ServerKeys, error) {
	byServer := map[string]map[construct.PublicKeyRequest]construct.Timestamp{}
	for req, ts := range requests {
		m := byServer[string(req.ServerName)]
		if m == nil {
			m = map[construct.PublicKeyRequest]construct.Timestamp{}
			byServer[string(req.ServerName)] = m
		}
		m[req] = ts
	}

	result := map[construct.PublicKeyRequest]construct.ServerKeys{}
	for server, reqs := range byServer {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		keys, err := fc.ServerKeys(server, reqs)
		if err != nil {
			continue // best-effort: a server that can't be reached simply verifies nothing
		}
		for k, v := range keys {
			result[k] = v
		}
	}
	return result, nil
}

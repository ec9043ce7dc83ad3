// Package tracker implements TrackerClient (spec.md §4.5): one HTTP
// GET per announce, exact-byte percent-encoding of info-hash, bencoded
// response parsing, and the interval that drives the next announce.
// Announce is a plain blocking call; the engine is responsible for
// running it in its own goroutine so a slow DNS lookup or connect
// never blocks the run loop (spec.md §5's async-DNS requirement),
// mirroring how the teacher's tracker.Tracker is always invoked from a
// goroutine in session.go rather than inline in the run loop.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/zeebo/bencode"
)

// Event is the optional lifecycle flag on an announce (spec.md §4.5).
type Event string

const (
	Started   Event = "started"
	Completed Event = "completed"
	Stopped   Event = "stopped"
	None      Event = ""
)

// ErrNonBencodedResponse is returned when the tracker replies with an
// HTML (error) body instead of a bencoded dictionary; callers should
// log and keep the existing interval timer (spec.md §7).
var ErrNonBencodedResponse = errors.New("tracker: non-bencoded response")

// Request carries everything the query string needs.
type Request struct {
	InfoHash   [20]byte
	PeerID     [20]byte
	Port       int
	Uploaded   int64
	Downloaded int64
	Left       int64
	Event      Event
}

// Response is the parsed bencoded announce reply.
type Response struct {
	Interval time.Duration
	Peers    []string // "ip:port"
}

type rawResponse struct {
	Interval int64  `bencode:"interval"`
	Peers    string `bencode:"peers"`
}

// Tracker announces to a single fixed URL and remembers enough of its
// own history (first contact, whether completed was already reported)
// to apply the event rules in spec.md §4.5.
type Tracker struct {
	url       string
	client    *http.Client
	contacted bool
	completed bool
}

// New builds a Tracker for announceURL with the given per-request
// timeout.
func New(announceURL string, timeout time.Duration) *Tracker {
	return &Tracker{
		url:    announceURL,
		client: &http.Client{Timeout: timeout},
	}
}

// NextEvent applies spec.md §4.5's event table and records that this
// tracker has now been contacted. downloaded/left/totalLength are the
// Session's accounting counters at the moment of the call; totalLength
// doubles as the SIGINT sentinel (downloaded=totalLength, left=
// totalLength) that requests a stopped announce.
func (t *Tracker) NextEvent(downloaded, left, totalLength int64) Event {
	defer func() { t.contacted = true }()
	switch {
	case downloaded == totalLength && left == totalLength:
		return Stopped
	case !t.contacted && left != 0:
		return Started
	case t.contacted && downloaded > 0 && left == 0 && !t.completed:
		t.completed = true
		return Completed
	default:
		return None
	}
}

// URL returns the tracker's announce URL, used as its identity.
func (t *Tracker) URL() string { return t.url }

// Announce performs one HTTP GET and parses the reply. It blocks for
// the duration of DNS resolution, connect, and the response read, so
// callers must not call it from the run loop's own goroutine.
func (t *Tracker) Announce(ctx context.Context, req Request) (Response, error) {
	full := t.url + "?" + encodeQuery(req)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, full, nil)
	if err != nil {
		return Response{}, err
	}
	resp, err := t.client.Do(httpReq)
	if err != nil {
		return Response{}, err
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); strings.Contains(ct, "html") {
		return Response{}, ErrNonBencodedResponse
	}

	var raw rawResponse
	if err := bencode.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return Response{}, fmt.Errorf("tracker: decode response: %w", err)
	}
	peers, err := decodeCompactPeers(raw.Peers)
	if err != nil {
		return Response{}, err
	}
	return Response{Interval: time.Duration(raw.Interval) * time.Second, Peers: peers}, nil
}

// encodeQuery builds the query string by hand because info_hash must
// carry a literal %xx for every byte, including alphanumerics, which
// url.QueryEscape will not produce and which some trackers require for
// a 20-byte binary field (spec.md §6). peer_id goes through
// url.QueryEscape instead, which leaves letters, digits and '-'
// unescaped, so an id from peerid.New (internal/peerid/peerid.go) is
// sent as its raw bytes, as original_source/driver.c sends it, while
// any other byte is percent-encoded.
func encodeQuery(req Request) string {
	var b strings.Builder
	b.WriteString("info_hash=")
	b.WriteString(percentEncodeAll(req.InfoHash[:]))
	b.WriteString("&peer_id=")
	b.WriteString(url.QueryEscape(string(req.PeerID[:])))
	b.WriteString("&port=")
	b.WriteString(strconv.Itoa(req.Port))
	b.WriteString("&uploaded=")
	b.WriteString(strconv.FormatInt(req.Uploaded, 10))
	b.WriteString("&downloaded=")
	b.WriteString(strconv.FormatInt(req.Downloaded, 10))
	b.WriteString("&left=")
	b.WriteString(strconv.FormatInt(req.Left, 10))
	if req.Event != None {
		b.WriteString("&event=")
		b.WriteString(string(req.Event))
	}
	return b.String()
}

const hexDigits = "0123456789ABCDEF"

// percentEncodeAll renders every byte of b as %XX, unconditionally.
func percentEncodeAll(b []byte) string {
	out := make([]byte, 0, len(b)*3)
	for _, c := range b {
		out = append(out, '%', hexDigits[c>>4], hexDigits[c&0xf])
	}
	return string(out)
}

// decodeCompactPeers parses the compact peer list: 6 bytes per peer,
// 4-byte big-endian IPv4 followed by a 2-byte big-endian port.
func decodeCompactPeers(raw string) ([]string, error) {
	b := []byte(raw)
	if len(b)%6 != 0 {
		return nil, fmt.Errorf("tracker: compact peers length %d not a multiple of 6", len(b))
	}
	peers := make([]string, 0, len(b)/6)
	for i := 0; i+6 <= len(b); i += 6 {
		ip := net.IPv4(b[i], b[i+1], b[i+2], b[i+3])
		port := int(b[i+4])<<8 | int(b[i+5])
		peers = append(peers, net.JoinHostPort(ip.String(), strconv.Itoa(port)))
	}
	return peers, nil
}

// ValidURL reports whether raw is an http or https URL, exported for
// the Driver to validate a parsed torrent's announce URLs before
// constructing Trackers.
func ValidURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https")
}

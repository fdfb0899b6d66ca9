package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/banshee-data/groundlink/internal/fsutil"
	"github.com/banshee-data/groundlink/internal/monitoring"
)

// PcapConnector replays vehicle traffic from a capture file as if it were a
// live UDP link. Writes are accepted and discarded.
type PcapConnector struct {
	Path string
	// FS defaults to the OS filesystem.
	FS fsutil.FileSystem
	// Realtime paces delivery by capture timestamps instead of replaying as
	// fast as the reader polls.
	Realtime bool
	Stats    StatsCollector
}

type capturedDatagram struct {
	src     net.IP
	payload []byte
	at      time.Time
}

// readCapture returns every UDP payload whose source or destination port is
// port, in capture order.
func (c *PcapConnector) readCapture(port int) ([]capturedDatagram, error) {
	fsys := c.FS
	if fsys == nil {
		fsys = fsutil.OSFileSystem{}
	}
	f, err := fsys.Open(c.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open PCAP file %s: %w", c.Path, err)
	}
	defer f.Close()

	r, err := pcapgo.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read PCAP header in %s: %w", c.Path, err)
	}

	var out []capturedDatagram
	total := 0
	for {
		data, ci, err := r.ReadPacketData()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read PCAP packet %d: %w", total+1, err)
		}
		total++

		packet := gopacket.NewPacket(data, r.LinkType(), gopacket.DecodeOptions{Lazy: true, NoCopy: true})
		udp, ok := packet.Layer(layers.LayerTypeUDP).(*layers.UDP)
		if !ok || len(udp.Payload) == 0 {
			continue
		}
		if int(udp.DstPort) != port && int(udp.SrcPort) != port {
			continue
		}
		var src net.IP
		switch ip := packet.NetworkLayer().(type) {
		case *layers.IPv4:
			src = ip.SrcIP
		case *layers.IPv6:
			src = ip.SrcIP
		default:
			continue
		}
		out = append(out, capturedDatagram{
			src:     append(net.IP(nil), src...),
			payload: append([]byte(nil), udp.Payload...),
			at:      ci.Timestamp,
		})
	}
	monitoring.Diagf("[transport] PCAP %s: %d of %d packets match udp port %d", c.Path, len(out), total, port)
	return out, nil
}

// Discover returns the source of the first MAVLink datagram in the capture.
func (c *PcapConnector) Discover(ctx context.Context, port int, _ time.Duration) (string, error) {
	grams, err := c.readCapture(port)
	if err != nil {
		return "", err
	}
	for _, g := range grams {
		if isMAVLinkStart(g.payload[0]) {
			return g.src.String(), nil
		}
	}
	return "", fmt.Errorf("%w in %s on port %d", ErrDiscoveryTimeout, c.Path, port)
}

// Open loads the datagrams sent by remote and replays them.
func (c *PcapConnector) Open(ctx context.Context, remote string, port int) (Transport, error) {
	ip := net.ParseIP(remote)
	if ip == nil {
		return nil, fmt.Errorf("invalid vehicle address %q", remote)
	}
	grams, err := c.readCapture(port)
	if err != nil {
		return nil, err
	}
	stats := statsOrNoop(c.Stats)
	filtered := grams[:0]
	for _, g := range grams {
		if g.src.Equal(ip) {
			filtered = append(filtered, g)
		} else {
			stats.AddDropped()
		}
	}
	return &pcapTransport{
		remote:   remote,
		grams:    filtered,
		realtime: c.Realtime,
		stats:    stats,
	}, nil
}

type pcapTransport struct {
	remote   string
	realtime bool
	stats    StatsCollector

	mu      sync.Mutex
	grams   []capturedDatagram
	next    int
	started time.Time
	closed  bool
}

func (t *pcapTransport) Read(p []byte) (int, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return 0, ErrClosed
	}
	if t.next >= len(t.grams) {
		t.mu.Unlock()
		return 0, ErrEndOfCapture
	}
	g := t.grams[t.next]
	if t.realtime {
		if t.started.IsZero() {
			t.started = time.Now()
		}
		due := t.started.Add(g.at.Sub(t.grams[0].at))
		if wait := time.Until(due); wait > 0 {
			t.mu.Unlock()
			if wait > ReadTimeout {
				wait = ReadTimeout
			}
			time.Sleep(wait)
			return 0, nil
		}
	}
	t.next++
	t.mu.Unlock()

	n := copy(p, g.payload)
	t.stats.AddPacket(n)
	return n, nil
}

// Write discards p; a capture cannot be commanded.
func (t *pcapTransport) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0, ErrClosed
	}
	return len(p), nil
}

func (t *pcapTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *pcapTransport) RemoteAddr() string { return t.remote }

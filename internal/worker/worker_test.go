package worker

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"testing"
	"time"

	"memtiergo/internal/client"
	"memtiergo/internal/conn"
	"memtiergo/internal/objgen"
)

// fakeServer is a minimal RESP responder: SET always OK, everything else a
// nil bulk reply. Good enough to drive a client.Client to completion.
type fakeServer struct {
	ln net.Listener
}

func startFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	fs := &fakeServer{ln: ln}
	go fs.serve()
	return fs
}

func (fs *fakeServer) serve() {
	for {
		c, err := fs.ln.Accept()
		if err != nil {
			return
		}
		go fs.handle(c)
	}
}

func (fs *fakeServer) handle(c net.Conn) {
	defer c.Close()
	r := bufio.NewReader(c)
	for {
		cmd, err := readRespCommand(r)
		if err != nil {
			return
		}
		var reply []byte
		if cmd[0] == "SET" {
			reply = []byte("+OK\r\n")
		} else {
			reply = []byte("$-1\r\n")
		}
		if _, err := c.Write(reply); err != nil {
			return
		}
	}
}

func (fs *fakeServer) addr() string { return fs.ln.Addr().String() }
func (fs *fakeServer) close()       { fs.ln.Close() }

func readRespCommand(r *bufio.Reader) ([]string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return nil, err
	}
	if len(line) < 1 || line[0] != '*' {
		return nil, fmt.Errorf("expected array, got %q", line)
	}
	n, err := strconv.Atoi(trimCRLF(line[1:]))
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		bulkLine, err := r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		if len(bulkLine) < 1 || bulkLine[0] != '$' {
			return nil, fmt.Errorf("expected bulk, got %q", bulkLine)
		}
		blen, err := strconv.Atoi(trimCRLF(bulkLine[1:]))
		if err != nil {
			return nil, err
		}
		buf := make([]byte, blen+2)
		total := 0
		for total < len(buf) {
			n, err := r.Read(buf[total:])
			total += n
			if err != nil {
				return nil, err
			}
		}
		out = append(out, string(buf[:blen]))
	}
	return out, nil
}

func trimCRLF(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\r' || s[len(s)-1] == '\n') {
		s = s[:len(s)-1]
	}
	return s
}

func newGroup(t *testing.T, addr string, cfg client.Config) (*client.Client, Group) {
	t.Helper()
	gcfg := objgen.Config{Prefix: "k", KeyMin: 0, KeyMax: 1000, Size: objgen.SizePolicy{Kind: objgen.SizeFixed, Fixed: 8}}
	gen, err := objgen.New(gcfg)
	if err != nil {
		t.Fatalf("objgen.New: %v", err)
	}
	cl := client.New(cfg, gen, time.Now())
	codec := conn.NewRespCodec(false)
	sc := conn.NewShardConn(0, addr, codec, cl, nil, 16, 0, conn.ReconnectConfig{})
	cl.AddConn(0, sc)
	return cl, Group{Owner: cl, Conns: []*conn.ShardConn{sc}}
}

// Test_WorkerFinishesWhenAllGroupsFinish is literal scenario coverage for
// §4.F: a worker with a single client group that reaches its request count
// closes its connections and signals Done on its own, without Stop.
func Test_WorkerFinishesWhenAllGroupsFinish(t *testing.T) {
	fs := startFakeServer(t)
	defer fs.close()

	cfg := client.Config{Ratio: client.Ratio{A: 1, B: 0}, Requests: 20}
	_, g := newGroup(t, fs.addr(), cfg)

	w := New(1, []Group{g}, 5*time.Millisecond)
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case <-w.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("worker never reported done")
	}

	if got := w.TotalOps(); got != 20 {
		t.Fatalf("expected TotalOps()==20 after finishing, got %d", got)
	}
	if w.DurationUsec() <= 0 {
		t.Fatalf("expected a positive duration, got %d", w.DurationUsec())
	}
}

// Test_WorkerStopInterruptsUnfinishedGroup is literal scenario coverage for
// the Ctrl-C interrupt path (§5): a worker whose client has no stop
// condition runs until Stop is called, at which point it closes its
// connections and reports done even though the client never finished.
func Test_WorkerStopInterruptsUnfinishedGroup(t *testing.T) {
	fs := startFakeServer(t)
	defer fs.close()

	// No Requests and no TestDuration: Finished() never returns true on its
	// own, so Done only fires via Stop.
	cfg := client.Config{Ratio: client.Ratio{A: 1, B: 0}}
	cl, g := newGroup(t, fs.addr(), cfg)

	w := New(2, []Group{g}, 5*time.Millisecond)
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	time.Sleep(30 * time.Millisecond) // let some traffic flow
	w.Stop()

	select {
	case <-w.Done():
	default:
		t.Fatal("expected Done to be closed once Stop returns")
	}
	if cl.Finished() {
		t.Fatal("client should not have reached its own stop condition")
	}
	// A second Stop call must not panic or block forever.
	w.Stop()
}

// Test_WorkerMergeIntoCombinesGroupStats exercises MergeInto against the
// main thread's final cross-worker merge (§4.H): ops recorded by one
// worker's client group show up in a fresh Engine after MergeInto.
func Test_WorkerMergeIntoCombinesGroupStats(t *testing.T) {
	fs := startFakeServer(t)
	defer fs.close()

	cfg := client.Config{Ratio: client.Ratio{A: 1, B: 0}, Requests: 10}
	_, g := newGroup(t, fs.addr(), cfg)

	w := New(3, []Group{g}, 5*time.Millisecond)
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	select {
	case <-w.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("worker never reported done")
	}

	fresh := client.New(client.Config{}, mustGen(t), time.Now()).Stats()
	w.MergeInto(fresh)
	total := fresh.Summarize().Grand.Ops
	if total != 10 {
		t.Fatalf("expected 10 merged ops, got %d", total)
	}
}

func mustGen(t *testing.T) *objgen.Generator {
	t.Helper()
	gen, err := objgen.New(objgen.Config{Prefix: "k", KeyMin: 0, KeyMax: 10, Size: objgen.SizePolicy{Kind: objgen.SizeFixed, Fixed: 8}})
	if err != nil {
		t.Fatalf("objgen.New: %v", err)
	}
	return gen
}

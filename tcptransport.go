package chord

import (
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"math/big"
	"net"
	"sync"
	"time"

	"github.com/afoglia/dyschord/internal/logger"
)

// TCPTransport is the concrete gob-over-TCP RPC transport: one goroutine
// accepting inbound connections, one goroutine per inbound connection, and
// a small per-host pool of outbound connections reused across calls.
// Grounded on armon-go-chord/net.go's TCPTransport; the header+typed-body
// envelope and connection pool are carried over essentially unchanged,
// while the request set is rebuilt around Descriptor-addressed NodeRef
// operations instead of Vnode RPCs.
//
// TCPTransport plays both ends: it implements ClientTransport for the
// dial side (used by RemoteNode), and drives a Handler on the serve side
// (the ServiceAdapter bound to a node's Translator).
type TCPTransport struct {
	sock    *net.TCPListener
	timeout time.Duration
	handler Handler
	logger  logger.Logger

	// ProxyVerbose logs every outbound call, mirroring
	// config.Config.ProxyVerbose / NodeProxy.verbose in client.py.
	ProxyVerbose bool
	// LogRequests logs every inbound call, mirroring
	// config.Config.LogRequests / SimpleXMLRPCServer's logRequests.
	LogRequests bool

	lock    sync.RWMutex
	inbound map[net.Conn]struct{}

	poolLock sync.Mutex
	pool     map[string][]*tcpConn
	shutdown bool
}

// Handler is the serve-side entry point set: the same shape as
// ClientTransport, since both sides address an operation at a target
// Descriptor. Where ClientTransport's d names who to dial, Handler's d
// names which locally-registered node to operate on once the request has
// already arrived. ServiceAdapter is the production implementation.
type Handler = ClientTransport

type tcpConn struct {
	host string
	sock net.Conn
	enc  *gob.Encoder
	dec  *gob.Decoder
}

const (
	tcpPing = iota
	tcpLookup
	tcpStore
	tcpStoreBackup
	tcpUpdateBackup
	tcpGetNext
	tcpSetNext
	tcpGetPredecessor
	tcpGetFingers
	tcpFindNode
	tcpClosestPrecedingNode
	tcpUpdateFingersOnInsert
	tcpUpdateFingersOnLeave
	tcpPrependNode
	tcpSetup
	tcpSuccessorLeaving
	tcpPredecessorLeaving
	tcpRepairFingers
	tcpRepairPredecessor
	tcpLeave
)

type tcpHeader struct {
	ReqType int
}

// Request bodies, one per operation. Field name Target is used
// consistently for "the descriptor this call addresses", matching
// ClientTransport's leading d parameter.
type (
	tcpBodyTarget struct {
		Target Descriptor
	}
	tcpBodyLookup struct {
		Target Descriptor
		Key    string
	}
	tcpBodyStore struct {
		Target Descriptor
		Key    string
		Value  []byte
	}
	tcpBodyStoreBackup struct {
		Target      Descriptor
		Key         string
		Value       []byte
		Predecessor Descriptor
	}
	tcpBodyUpdateBackup struct {
		Target Descriptor
		Data   map[string][]byte
	}
	tcpBodyTargetAndNode struct {
		Target Descriptor
		Node   Descriptor
	}
	tcpBodyFindNode struct {
		Target Descriptor
		H      *big.Int
	}
	tcpBodyUpdateFingersOnLeave struct {
		Target             Descriptor
		Leaving            Descriptor
		SuccessorOfLeaving Descriptor
	}
	tcpBodySetup struct {
		Target      Descriptor
		Predecessor Descriptor
		Fingers     map[string]Descriptor
		Data        map[string][]byte
	}
	tcpBodyPredecessorLeaving struct {
		Target         Descriptor
		NewPredecessor Descriptor
		Data           map[string][]byte
	}
)

// Response bodies. Err carries the error's message, translated back to a
// sentinel on decode when it matches one (see decodeErr) — safer over the
// wire than gob-encoding the error interface directly, which armon-go-chord
// does but which silently drops unexported error fields.
type (
	tcpBodyErr struct {
		Err string
	}
	tcpBodyBoolErr struct {
		B   bool
		Err string
	}
	tcpBodyBytesErr struct {
		V   []byte
		Err string
	}
	tcpBodyDescriptorErr struct {
		D   Descriptor
		Err string
	}
	tcpBodyFingersErr struct {
		M   map[string]Descriptor
		Err string
	}
)

var sentinelErrors = []error{
	ErrNotReady, ErrNotResponsible, ErrNotFound, ErrRingBroken,
	ErrTransport, ErrNoPeers, ErrDuplicateID, ErrInvalidJoinArc,
}

func encodeErr(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func decodeErr(s string) error {
	if s == "" {
		return nil
	}
	for _, se := range sentinelErrors {
		if se.Error() == s {
			return se
		}
	}
	return errors.New(s)
}

// NewTCPDialer builds a TCPTransport that only ever dials out — no
// listener is opened. Used by the convenience client, which (like
// original_source/dyschord/client.py's NodeProxy) never serves requests
// itself.
func NewTCPDialer(timeout time.Duration, lg logger.Logger) *TCPTransport {
	if lg == nil {
		lg = logger.NopLogger{}
	}
	return &TCPTransport{
		timeout: timeout,
		logger:  lg.Named("tcptransport"),
		inbound: make(map[net.Conn]struct{}),
		pool:    make(map[string][]*tcpConn),
	}
}

// NewTCPTransport starts listening on listen and begins accepting
// connections, dispatching decoded requests to handler.
func NewTCPTransport(listen string, timeout time.Duration, handler Handler, lg logger.Logger) (*TCPTransport, error) {
	sock, err := net.Listen("tcp", listen)
	if err != nil {
		return nil, err
	}
	if lg == nil {
		lg = logger.NopLogger{}
	}
	t := &TCPTransport{
		sock:    sock.(*net.TCPListener),
		timeout: timeout,
		handler: handler,
		logger:  lg.Named("tcptransport"),
		inbound: make(map[net.Conn]struct{}),
		pool:    make(map[string][]*tcpConn),
	}
	go t.listen()
	return t, nil
}

// Shutdown closes the listener and every pooled/inbound connection.
func (t *TCPTransport) Shutdown() {
	t.poolLock.Lock()
	t.shutdown = true
	t.poolLock.Unlock()
	if t.sock != nil {
		t.sock.Close()
	}

	t.lock.RLock()
	for conn := range t.inbound {
		conn.Close()
	}
	t.lock.RUnlock()

	t.poolLock.Lock()
	for _, conns := range t.pool {
		for _, c := range conns {
			c.sock.Close()
		}
	}
	t.pool = nil
	t.poolLock.Unlock()
}

// ---- dial side: ClientTransport ----

func (t *TCPTransport) getConn(host string) (*tcpConn, error) {
	t.poolLock.Lock()
	if t.shutdown {
		t.poolLock.Unlock()
		return nil, fmt.Errorf("tcp transport is shut down")
	}
	if list := t.pool[host]; len(list) > 0 {
		c := list[len(list)-1]
		t.pool[host] = list[:len(list)-1]
		t.poolLock.Unlock()
		if _, err := c.sock.Read(nil); err == nil {
			return c, nil
		}
		c.sock.Close()
	} else {
		t.poolLock.Unlock()
	}

	sock, err := net.DialTimeout("tcp", host, t.timeout)
	if err != nil {
		return nil, err
	}
	if tc, ok := sock.(*net.TCPConn); ok {
		tc.SetNoDelay(true)
		tc.SetKeepAlive(true)
	}
	return &tcpConn{
		host: host,
		sock: sock,
		enc:  gob.NewEncoder(sock),
		dec:  gob.NewDecoder(sock),
	}, nil
}

func (t *TCPTransport) returnConn(c *tcpConn) {
	t.poolLock.Lock()
	defer t.poolLock.Unlock()
	if t.shutdown {
		c.sock.Close()
		return
	}
	t.pool[c.host] = append(t.pool[c.host], c)
}

// doRPC performs one request/response round trip against host: send the
// header, send body, decode into resp. Closes and drops the connection
// from the pool on any I/O error rather than returning it.
func (t *TCPTransport) doRPC(ctx context.Context, host string, reqType int, body, resp any) error {
	if t.ProxyVerbose {
		t.logger.Debug("calling", logger.F("host", host), logger.F("reqType", reqType))
	}
	c, err := t.getConn(host)
	if err != nil {
		return wrapTransport(err)
	}
	if dl, ok := ctx.Deadline(); ok {
		c.sock.SetDeadline(dl)
	} else if t.timeout > 0 {
		c.sock.SetDeadline(time.Now().Add(t.timeout))
	}
	if err := c.enc.Encode(&tcpHeader{ReqType: reqType}); err != nil {
		c.sock.Close()
		return wrapTransport(err)
	}
	if err := c.enc.Encode(body); err != nil {
		c.sock.Close()
		return wrapTransport(err)
	}
	if err := c.dec.Decode(resp); err != nil {
		c.sock.Close()
		return wrapTransport(err)
	}
	t.returnConn(c)
	return nil
}

func (t *TCPTransport) Ping(ctx context.Context, d Descriptor) (bool, error) {
	resp := tcpBodyBoolErr{}
	if err := t.doRPC(ctx, d.URL, tcpPing, &tcpBodyTarget{Target: d}, &resp); err != nil {
		return false, err
	}
	return resp.B, decodeErr(resp.Err)
}

func (t *TCPTransport) Lookup(ctx context.Context, d Descriptor, key string) ([]byte, error) {
	resp := tcpBodyBytesErr{}
	if err := t.doRPC(ctx, d.URL, tcpLookup, &tcpBodyLookup{Target: d, Key: key}, &resp); err != nil {
		return nil, err
	}
	return resp.V, decodeErr(resp.Err)
}

func (t *TCPTransport) Store(ctx context.Context, d Descriptor, key string, value []byte) error {
	resp := tcpBodyErr{}
	if err := t.doRPC(ctx, d.URL, tcpStore, &tcpBodyStore{Target: d, Key: key, Value: value}, &resp); err != nil {
		return err
	}
	return decodeErr(resp.Err)
}

func (t *TCPTransport) StoreBackup(ctx context.Context, d Descriptor, key string, value []byte, predecessor Descriptor) error {
	resp := tcpBodyErr{}
	body := &tcpBodyStoreBackup{Target: d, Key: key, Value: value, Predecessor: predecessor}
	if err := t.doRPC(ctx, d.URL, tcpStoreBackup, body, &resp); err != nil {
		return err
	}
	return decodeErr(resp.Err)
}

func (t *TCPTransport) UpdateBackup(ctx context.Context, d Descriptor, data map[string][]byte) error {
	resp := tcpBodyErr{}
	if err := t.doRPC(ctx, d.URL, tcpUpdateBackup, &tcpBodyUpdateBackup{Target: d, Data: data}, &resp); err != nil {
		return err
	}
	return decodeErr(resp.Err)
}

func (t *TCPTransport) GetNext(ctx context.Context, d Descriptor) (Descriptor, error) {
	resp := tcpBodyDescriptorErr{}
	if err := t.doRPC(ctx, d.URL, tcpGetNext, &tcpBodyTarget{Target: d}, &resp); err != nil {
		return Descriptor{}, err
	}
	return resp.D, decodeErr(resp.Err)
}

func (t *TCPTransport) SetNext(ctx context.Context, d Descriptor, next Descriptor) error {
	resp := tcpBodyErr{}
	if err := t.doRPC(ctx, d.URL, tcpSetNext, &tcpBodyTargetAndNode{Target: d, Node: next}, &resp); err != nil {
		return err
	}
	return decodeErr(resp.Err)
}

func (t *TCPTransport) GetPredecessor(ctx context.Context, d Descriptor) (Descriptor, error) {
	resp := tcpBodyDescriptorErr{}
	if err := t.doRPC(ctx, d.URL, tcpGetPredecessor, &tcpBodyTarget{Target: d}, &resp); err != nil {
		return Descriptor{}, err
	}
	return resp.D, decodeErr(resp.Err)
}

func (t *TCPTransport) GetFingers(ctx context.Context, d Descriptor) (map[string]Descriptor, error) {
	resp := tcpBodyFingersErr{}
	if err := t.doRPC(ctx, d.URL, tcpGetFingers, &tcpBodyTarget{Target: d}, &resp); err != nil {
		return nil, err
	}
	return resp.M, decodeErr(resp.Err)
}

func (t *TCPTransport) FindNode(ctx context.Context, d Descriptor, h *big.Int) (Descriptor, error) {
	resp := tcpBodyDescriptorErr{}
	if err := t.doRPC(ctx, d.URL, tcpFindNode, &tcpBodyFindNode{Target: d, H: h}, &resp); err != nil {
		return Descriptor{}, err
	}
	return resp.D, decodeErr(resp.Err)
}

func (t *TCPTransport) ClosestPrecedingNode(ctx context.Context, d Descriptor, h *big.Int) (Descriptor, error) {
	resp := tcpBodyDescriptorErr{}
	if err := t.doRPC(ctx, d.URL, tcpClosestPrecedingNode, &tcpBodyFindNode{Target: d, H: h}, &resp); err != nil {
		return Descriptor{}, err
	}
	return resp.D, decodeErr(resp.Err)
}

func (t *TCPTransport) UpdateFingersOnInsert(ctx context.Context, d Descriptor, newnode Descriptor) error {
	resp := tcpBodyErr{}
	if err := t.doRPC(ctx, d.URL, tcpUpdateFingersOnInsert, &tcpBodyTargetAndNode{Target: d, Node: newnode}, &resp); err != nil {
		return err
	}
	return decodeErr(resp.Err)
}

func (t *TCPTransport) UpdateFingersOnLeave(ctx context.Context, d Descriptor, leaving, successorOfLeaving Descriptor) error {
	resp := tcpBodyErr{}
	body := &tcpBodyUpdateFingersOnLeave{Target: d, Leaving: leaving, SuccessorOfLeaving: successorOfLeaving}
	if err := t.doRPC(ctx, d.URL, tcpUpdateFingersOnLeave, body, &resp); err != nil {
		return err
	}
	return decodeErr(resp.Err)
}

func (t *TCPTransport) PrependNode(ctx context.Context, d Descriptor, newnode Descriptor) error {
	resp := tcpBodyErr{}
	if err := t.doRPC(ctx, d.URL, tcpPrependNode, &tcpBodyTargetAndNode{Target: d, Node: newnode}, &resp); err != nil {
		return err
	}
	return decodeErr(resp.Err)
}

func (t *TCPTransport) Setup(ctx context.Context, d Descriptor, predecessor Descriptor, fingers map[string]Descriptor, data map[string][]byte) error {
	resp := tcpBodyErr{}
	body := &tcpBodySetup{Target: d, Predecessor: predecessor, Fingers: fingers, Data: data}
	if err := t.doRPC(ctx, d.URL, tcpSetup, body, &resp); err != nil {
		return err
	}
	return decodeErr(resp.Err)
}

func (t *TCPTransport) SuccessorLeaving(ctx context.Context, d Descriptor, newSuccessor Descriptor) error {
	resp := tcpBodyErr{}
	if err := t.doRPC(ctx, d.URL, tcpSuccessorLeaving, &tcpBodyTargetAndNode{Target: d, Node: newSuccessor}, &resp); err != nil {
		return err
	}
	return decodeErr(resp.Err)
}

func (t *TCPTransport) PredecessorLeaving(ctx context.Context, d Descriptor, newPredecessor Descriptor, data map[string][]byte) error {
	resp := tcpBodyErr{}
	body := &tcpBodyPredecessorLeaving{Target: d, NewPredecessor: newPredecessor, Data: data}
	if err := t.doRPC(ctx, d.URL, tcpPredecessorLeaving, body, &resp); err != nil {
		return err
	}
	return decodeErr(resp.Err)
}

func (t *TCPTransport) RepairFingers(ctx context.Context, d Descriptor) error {
	resp := tcpBodyErr{}
	if err := t.doRPC(ctx, d.URL, tcpRepairFingers, &tcpBodyTarget{Target: d}, &resp); err != nil {
		return err
	}
	return decodeErr(resp.Err)
}

func (t *TCPTransport) RepairPredecessor(ctx context.Context, d Descriptor) error {
	resp := tcpBodyErr{}
	if err := t.doRPC(ctx, d.URL, tcpRepairPredecessor, &tcpBodyTarget{Target: d}, &resp); err != nil {
		return err
	}
	return decodeErr(resp.Err)
}

func (t *TCPTransport) Leave(ctx context.Context, d Descriptor) error {
	resp := tcpBodyErr{}
	if err := t.doRPC(ctx, d.URL, tcpLeave, &tcpBodyTarget{Target: d}, &resp); err != nil {
		return err
	}
	return decodeErr(resp.Err)
}

// ---- serve side: listener + dispatcher ----

func (t *TCPTransport) listen() {
	for {
		conn, err := t.sock.AcceptTCP()
		if err != nil {
			t.poolLock.Lock()
			shutdown := t.shutdown
			t.poolLock.Unlock()
			if shutdown {
				return
			}
			t.logger.Warn("accept failed", logger.F("error", err.Error()))
			continue
		}
		conn.SetNoDelay(true)
		conn.SetKeepAlive(true)

		t.lock.Lock()
		t.inbound[conn] = struct{}{}
		t.lock.Unlock()

		go t.handleConn(conn)
	}
}

func (t *TCPTransport) handleConn(conn *net.TCPConn) {
	defer func() {
		t.lock.Lock()
		delete(t.inbound, conn)
		t.lock.Unlock()
		conn.Close()
	}()

	dec := gob.NewDecoder(conn)
	enc := gob.NewEncoder(conn)
	ctx := context.Background()

	for {
		header := tcpHeader{}
		if err := dec.Decode(&header); err != nil {
			return // EOF or reset: client closed/returned the conn to its pool
		}
		if t.LogRequests {
			t.logger.Debug("handling request", logger.F("reqType", header.ReqType))
		}

		var sendResp any
		switch header.ReqType {
		case tcpPing:
			body := tcpBodyTarget{}
			if err := dec.Decode(&body); err != nil {
				return
			}
			ok, err := t.handler.Ping(ctx, body.Target)
			sendResp = &tcpBodyBoolErr{B: ok, Err: encodeErr(err)}

		case tcpLookup:
			body := tcpBodyLookup{}
			if err := dec.Decode(&body); err != nil {
				return
			}
			v, err := t.handler.Lookup(ctx, body.Target, body.Key)
			sendResp = &tcpBodyBytesErr{V: v, Err: encodeErr(err)}

		case tcpStore:
			body := tcpBodyStore{}
			if err := dec.Decode(&body); err != nil {
				return
			}
			err := t.handler.Store(ctx, body.Target, body.Key, body.Value)
			sendResp = &tcpBodyErr{Err: encodeErr(err)}

		case tcpStoreBackup:
			body := tcpBodyStoreBackup{}
			if err := dec.Decode(&body); err != nil {
				return
			}
			err := t.handler.StoreBackup(ctx, body.Target, body.Key, body.Value, body.Predecessor)
			sendResp = &tcpBodyErr{Err: encodeErr(err)}

		case tcpUpdateBackup:
			body := tcpBodyUpdateBackup{}
			if err := dec.Decode(&body); err != nil {
				return
			}
			err := t.handler.UpdateBackup(ctx, body.Target, body.Data)
			sendResp = &tcpBodyErr{Err: encodeErr(err)}

		case tcpGetNext:
			body := tcpBodyTarget{}
			if err := dec.Decode(&body); err != nil {
				return
			}
			d, err := t.handler.GetNext(ctx, body.Target)
			sendResp = &tcpBodyDescriptorErr{D: d, Err: encodeErr(err)}

		case tcpSetNext:
			body := tcpBodyTargetAndNode{}
			if err := dec.Decode(&body); err != nil {
				return
			}
			err := t.handler.SetNext(ctx, body.Target, body.Node)
			sendResp = &tcpBodyErr{Err: encodeErr(err)}

		case tcpGetPredecessor:
			body := tcpBodyTarget{}
			if err := dec.Decode(&body); err != nil {
				return
			}
			d, err := t.handler.GetPredecessor(ctx, body.Target)
			sendResp = &tcpBodyDescriptorErr{D: d, Err: encodeErr(err)}

		case tcpGetFingers:
			body := tcpBodyTarget{}
			if err := dec.Decode(&body); err != nil {
				return
			}
			m, err := t.handler.GetFingers(ctx, body.Target)
			sendResp = &tcpBodyFingersErr{M: m, Err: encodeErr(err)}

		case tcpFindNode:
			body := tcpBodyFindNode{}
			if err := dec.Decode(&body); err != nil {
				return
			}
			d, err := t.handler.FindNode(ctx, body.Target, body.H)
			sendResp = &tcpBodyDescriptorErr{D: d, Err: encodeErr(err)}

		case tcpClosestPrecedingNode:
			body := tcpBodyFindNode{}
			if err := dec.Decode(&body); err != nil {
				return
			}
			d, err := t.handler.ClosestPrecedingNode(ctx, body.Target, body.H)
			sendResp = &tcpBodyDescriptorErr{D: d, Err: encodeErr(err)}

		case tcpUpdateFingersOnInsert:
			body := tcpBodyTargetAndNode{}
			if err := dec.Decode(&body); err != nil {
				return
			}
			err := t.handler.UpdateFingersOnInsert(ctx, body.Target, body.Node)
			sendResp = &tcpBodyErr{Err: encodeErr(err)}

		case tcpUpdateFingersOnLeave:
			body := tcpBodyUpdateFingersOnLeave{}
			if err := dec.Decode(&body); err != nil {
				return
			}
			err := t.handler.UpdateFingersOnLeave(ctx, body.Target, body.Leaving, body.SuccessorOfLeaving)
			sendResp = &tcpBodyErr{Err: encodeErr(err)}

		case tcpPrependNode:
			body := tcpBodyTargetAndNode{}
			if err := dec.Decode(&body); err != nil {
				return
			}
			err := t.handler.PrependNode(ctx, body.Target, body.Node)
			sendResp = &tcpBodyErr{Err: encodeErr(err)}

		case tcpSetup:
			body := tcpBodySetup{}
			if err := dec.Decode(&body); err != nil {
				return
			}
			err := t.handler.Setup(ctx, body.Target, body.Predecessor, body.Fingers, body.Data)
			sendResp = &tcpBodyErr{Err: encodeErr(err)}

		case tcpSuccessorLeaving:
			body := tcpBodyTargetAndNode{}
			if err := dec.Decode(&body); err != nil {
				return
			}
			err := t.handler.SuccessorLeaving(ctx, body.Target, body.Node)
			sendResp = &tcpBodyErr{Err: encodeErr(err)}

		case tcpPredecessorLeaving:
			body := tcpBodyPredecessorLeaving{}
			if err := dec.Decode(&body); err != nil {
				return
			}
			err := t.handler.PredecessorLeaving(ctx, body.Target, body.NewPredecessor, body.Data)
			sendResp = &tcpBodyErr{Err: encodeErr(err)}

		case tcpRepairFingers:
			body := tcpBodyTarget{}
			if err := dec.Decode(&body); err != nil {
				return
			}
			err := t.handler.RepairFingers(ctx, body.Target)
			sendResp = &tcpBodyErr{Err: encodeErr(err)}

		case tcpRepairPredecessor:
			body := tcpBodyTarget{}
			if err := dec.Decode(&body); err != nil {
				return
			}
			err := t.handler.RepairPredecessor(ctx, body.Target)
			sendResp = &tcpBodyErr{Err: encodeErr(err)}

		case tcpLeave:
			body := tcpBodyTarget{}
			if err := dec.Decode(&body); err != nil {
				return
			}
			err := t.handler.Leave(ctx, body.Target)
			sendResp = &tcpBodyErr{Err: encodeErr(err)}

		default:
			t.logger.Warn("unknown request type", logger.F("reqType", header.ReqType))
			return
		}

		if err := enc.Encode(sendResp); err != nil {
			t.logger.Warn("failed to send response", logger.F("error", err.Error()))
			return
		}
	}
}

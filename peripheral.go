package mdoc

import (
	"context"
	"sync"
	"time"

	"github.com/go-ble/ble"
)

// PeripheralServer implements spec §4.D: advertise the service, expose the
// GATT characteristics, accept a single central, fragment outgoing traffic
// on Server2Client notifications, reassemble incoming traffic from
// Client2Server writes, and optionally migrate to L2CAP after state-start.
type PeripheralServer struct {
	cfg     Config
	profile GattProfile
	ident   Ident

	sm   *ConnectionStateMachine
	term *TerminationProvider

	mu             sync.Mutex
	frag           *Fragmenter
	dev            ble.Device
	notifyCh       chan []byte
	connected      bool
	sendMu         sync.Mutex
	l2capActive    bool
	l2capConfirmed bool
	l2capSession   *l2capChannel

	lastActivity time.Time
	ctx          context.Context

	onReceived    func([]byte)
	onStateChange func(ConnectionState)
}

// NewPeripheralServer builds a server bound to one GATT profile/ident pair
// and one ConnectionStateMachine (spec §4.F: one state machine instance per
// endpoint).
func NewPeripheralServer(cfg Config, profile GattProfile, ident Ident, sm *ConnectionStateMachine, term *TerminationProvider) *PeripheralServer {
	return &PeripheralServer{
		cfg:     cfg,
		profile: profile,
		ident:   ident,
		sm:      sm,
		term:    term,
		frag:    NewFragmenter(cfg.MaxFragmentBytes+1, cfg.MaxMessageBytes),
	}
}

func (p *PeripheralServer) OnReceived(cb func([]byte))             { p.onReceived = cb }
func (p *PeripheralServer) OnStateChange(cb func(ConnectionState)) { p.onStateChange = cb }

// Start begins advertising the fixed mdoc service (spec §4.D contract).
// Every failure, including an adapter that cannot be opened, surfaces as
// BluetoothUnavailable, terminal per the §4.F classifier.
func (p *PeripheralServer) Start(ctx context.Context) error {
	p.ctx = ctx

	dev, err := newDefaultDevice()
	if err != nil {
		return &ProtoError{ErrBluetoothUnavailable}
	}
	ble.SetDefaultDevice(dev)
	p.dev = dev

	svc := ble.NewService(p.profile.ServiceUUID)

	stateChar := svc.NewCharacteristic(p.profile.StateUUID)
	stateChar.HandleWrite(ble.WriteHandlerFunc(p.handleStateWrite))

	c2sChar := svc.NewCharacteristic(p.profile.Client2ServerUUID)
	c2sChar.HandleWrite(ble.WriteHandlerFunc(p.handleClient2ServerWrite))

	s2cChar := svc.NewCharacteristic(p.profile.Server2ClientUUID)
	s2cChar.HandleNotify(ble.NotifyHandlerFunc(p.handleServer2ClientSubscribe))

	identChar := svc.NewCharacteristic(p.profile.IdentUUID)
	identChar.HandleRead(ble.ReadHandlerFunc(func(req ble.Request, rsp ble.ResponseWriter) {
		_, _ = rsp.Write(p.ident.Bytes())
	}))

	if p.cfg.UseL2CAP != L2CAPDisable {
		psmChar := svc.NewCharacteristic(p.profile.L2CAPPSMUUID)
		psmChar.HandleRead(ble.ReadHandlerFunc(func(req ble.Request, rsp ble.ResponseWriter) {
			_, _ = rsp.Write(encodePSM(l2capListenPSM))
		}))
		p.startL2CAPListener()
	}

	if err := p.advertiseWithGrace(ctx, svc); err != nil {
		return err
	}

	p.sm.TransitionTo(Scanning, "")
	return nil
}

// advertiseWithGrace adds the GATT service and begins advertising; on
// failure, if cfg.ReconnectGrace is set, allows one more attempt bounded by
// that grace window before surfacing a terminal error (spec_full.md §4
// supplement #4). Both attempts happen before any state-machine
// transition, so no new transition is introduced.
func (p *PeripheralServer) advertiseWithGrace(ctx context.Context, svc *ble.Service) error {
	err := p.advertiseOnce(ctx, svc)
	if err == nil {
		return nil
	}
	if p.cfg.ReconnectGrace > 0 {
		graceCtx, cancel := context.WithTimeout(ctx, p.cfg.ReconnectGrace)
		defer cancel()
		err = p.advertiseOnce(graceCtx, svc)
	}
	if err != nil {
		return &ProtoError{ErrBluetoothUnavailable}
	}
	return nil
}

func (p *PeripheralServer) advertiseOnce(ctx context.Context, svc *ble.Service) error {
	if err := p.dev.AddService(svc); err != nil {
		return err
	}
	return p.dev.AdvertiseNameAndServices(ctx, "mdoc-holder", p.profile.ServiceUUID)
}

// startL2CAPListener opens the CoC listen socket and waits for a single
// central to migrate the data path to it (spec §4.D L2CAP note). A bind
// failure here just means the L2CAP upgrade never becomes available; the
// session proceeds over GATT, same as the dial-side fallback.
func (p *PeripheralServer) startL2CAPListener() {
	acceptOne, closeListener, err := listenL2CAP(l2capListenPSM)
	if err != nil {
		return
	}
	go recoverToLog(func() {
		ch, err := acceptOne()
		_ = closeListener()
		if err != nil {
			return
		}
		p.mu.Lock()
		p.l2capSession = ch
		p.l2capActive = true
		p.l2capConfirmed = false
		p.mu.Unlock()
	}, log)
}

func (p *PeripheralServer) handleStateWrite(req ble.Request, rsp ble.ResponseWriter) {
	data := req.Data()
	if len(data) != 1 {
		return
	}
	switch data[0] {
	case StateStart:
		p.mu.Lock()
		p.connected = true
		p.lastActivity = time.Now()
		p.mu.Unlock()
		p.sm.TransitionTo(Connecting, "")
		p.sm.TransitionTo(Connected, "")
		if p.onStateChange != nil {
			p.onStateChange(Connected)
		}
		if p.ctx != nil {
			go recoverToLog(func() {
				armIdleTimeout(p.ctx, p.cfg.IdleTimeout, func() time.Time {
					p.mu.Lock()
					defer p.mu.Unlock()
					return p.lastActivity
				}, func() {
					err := &ProtoError{ErrIdleTimeout}
					if p.sm.HandleError(err) {
						p.term.HandleError(err)
					}
				})
			}, log)
		}
	case StateEnd:
		p.handleIncomingFrame(TerminateFrame())
	}
}

func (p *PeripheralServer) handleClient2ServerWrite(req ble.Request, rsp ble.ResponseWriter) {
	p.handleIncomingFrame(req.Data())
}

func (p *PeripheralServer) handleIncomingFrame(frame []byte) {
	p.mu.Lock()
	p.lastActivity = time.Now()
	message, complete, isTerminate, err := p.frag.Accept(frame)
	p.mu.Unlock()

	if err != nil {
		if p.sm.HandleError(err) {
			p.term.HandleError(err)
		}
		return
	}
	if isTerminate {
		p.term.Terminate()
		return
	}
	if complete && p.onReceived != nil {
		p.onReceived(message)
	}
}

// handleServer2ClientSubscribe is invoked once per subscription. It installs
// a fresh notifyCh and then blocks, writing every frame Send/SendFrame queue
// on that channel to the subscriber's Notifier, until the channel is closed,
// a notification write fails, or the subscription ends.
func (p *PeripheralServer) handleServer2ClientSubscribe(req ble.Request, n ble.Notifier) {
	ch := make(chan []byte, 64)
	p.mu.Lock()
	p.notifyCh = ch
	p.mu.Unlock()

	for {
		select {
		case frame, ok := <-ch:
			if !ok {
				return
			}
			if _, err := n.Write(frame); err != nil {
				return
			}
		case <-n.Context().Done():
			return
		}
	}
}

// Send fragments message once and sends it over whichever transport is
// active. If an L2CAP channel is active but has not yet carried a
// successful message, a send failure clears it and falls back to the
// Server2Client notification path for the same frames rather than
// surfacing the error (spec §4.D/§9: "fallback to GATT if the channel
// errors before the first successful message"). Once L2CAP has confirmed
// at least one send, a later failure is terminal and is returned as-is.
func (p *PeripheralServer) Send(message []byte) error {
	p.sendMu.Lock()
	defer p.sendMu.Unlock()

	frames := p.frag.Frame(message)

	p.mu.Lock()
	l2cap := p.l2capActive
	session := p.l2capSession
	confirmed := p.l2capConfirmed
	p.mu.Unlock()

	if l2cap && session != nil {
		err := retry(context.Background(), defaultRetryPolicy(p.cfg.SendTimeout, p.cfg.Retries), func() error {
			for _, f := range frames {
				if err := session.sendFramed(f, p.cfg.MaxFragmentBytes); err != nil {
					return err
				}
			}
			return nil
		})
		if err == nil {
			p.mu.Lock()
			p.l2capConfirmed = true
			p.mu.Unlock()
			return nil
		}
		if confirmed {
			return err
		}
		p.mu.Lock()
		p.l2capActive = false
		p.l2capSession = nil
		p.mu.Unlock()
		_ = session.Close()
	}

	return retry(context.Background(), defaultRetryPolicy(p.cfg.SendTimeout, p.cfg.Retries), func() error {
		return p.sendFrames(frames)
	})
}

func (p *PeripheralServer) sendFrames(frames [][]byte) error {
	p.mu.Lock()
	ch := p.notifyCh
	p.mu.Unlock()
	if ch == nil {
		return &SendError{ErrNotPaired}
	}
	for _, f := range frames {
		select {
		case ch <- f:
		case <-time.After(p.cfg.SendTimeout):
			return &SendError{ErrTimeout}
		}
	}
	return nil
}

// SendFrame implements FrameSender for TerminationProvider: a single
// already-framed 0x02 byte (spec §4.G).
func (p *PeripheralServer) SendFrame(frame []byte) error {
	p.mu.Lock()
	ch := p.notifyCh
	p.mu.Unlock()
	if ch == nil {
		return &SendError{ErrNotPaired}
	}
	select {
	case ch <- frame:
		return nil
	case <-time.After(p.cfg.SendTimeout):
		return &SendError{ErrTimeout}
	}
}

// Terminate writes 0x02 on Server2Client (if still connected), closes the
// GATT server, and stops advertising (spec §4.D contract).
func (p *PeripheralServer) Terminate() {
	_ = p.SendFrame(TerminateFrame())
	p.mu.Lock()
	if p.notifyCh != nil {
		close(p.notifyCh)
		p.notifyCh = nil
	}
	dev := p.dev
	p.mu.Unlock()
	if dev != nil {
		_ = dev.Stop()
	}
}

package ingest

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"argus-vms/internal/queue"
	"argus-vms/internal/schema"

	"github.com/pion/dtls/v2"
)

var (
	ErrDTLSCertRequired       = errors.New("DTLS requires certificate and key")
	ErrDTLSClientCertRequired = errors.New("mutual TLS requires CA certificate")
)

// DTLSServerConfig configures the secure UDP intake for edge devices.
type DTLSServerConfig struct {
	Address  string
	CertFile string
	KeyFile  string

	// CAFile verifies edge device certificates when mutual TLS is on.
	CAFile            string
	RequireClientCert bool

	Workers           int
	MaxMessageSize    int
	ConnectionTimeout time.Duration
	IdleTimeout       time.Duration

	// AllowInsecure falls back to plain UDP when no certificate is
	// configured. Intake then runs unencrypted, every start logs a
	// warning.
	AllowInsecure bool
}

// DefaultDTLSServerConfig returns secure defaults.
func DefaultDTLSServerConfig() DTLSServerConfig {
	return DTLSServerConfig{
		Address:           ":5516",
		Workers:           8,
		MaxMessageSize:    65535,
		ConnectionTimeout: 30 * time.Second,
		IdleTimeout:       5 * time.Minute,
	}
}

// DTLSServerMetrics is a point-in-time snapshot of intake counters.
type DTLSServerMetrics struct {
	Connections    uint64
	Handshakes     uint64
	HandshakeErrs  uint64
	Received       uint64
	Decoded        uint64
	Queued         uint64
	Errors         uint64
	InsecureWarned bool
}

// datagram is one received payload plus where it came from.
type datagram struct {
	data     []byte
	sourceIP string
	secure   bool
}

// DTLSServer receives alert submissions from edge devices over DTLS.
// Each datagram carries one JSON-encoded alert; decoded alerts flow
// into the shared ring buffer like HTTP submissions do.
type DTLSServer struct {
	config    DTLSServerConfig
	listener  net.Listener
	validator *schema.Validator
	queue     *queue.RingBuffer
	logger    *slog.Logger

	// Set only in plain UDP fallback mode.
	udpConn *net.UDPConn

	wg   sync.WaitGroup
	done chan struct{}

	connections    atomic.Uint64
	handshakes     atomic.Uint64
	handshakeErrs  atomic.Uint64
	received       atomic.Uint64
	decoded        atomic.Uint64
	queued         atomic.Uint64
	errorCount     atomic.Uint64
	insecureWarned bool
}

func NewDTLSServer(
	cfg DTLSServerConfig,
	validator *schema.Validator,
	q *queue.RingBuffer,
	logger *slog.Logger,
) (*DTLSServer, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if !cfg.AllowInsecure && (cfg.CertFile == "" || cfg.KeyFile == "") {
		return nil, ErrDTLSCertRequired
	}
	if cfg.RequireClientCert && cfg.CAFile == "" {
		return nil, ErrDTLSClientCertRequired
	}

	return &DTLSServer{
		config:    cfg,
		validator: validator,
		queue:     q,
		logger:    logger,
		done:      make(chan struct{}),
	}, nil
}

func (s *DTLSServer) Start(ctx context.Context) error {
	if s.config.AllowInsecure && (s.config.CertFile == "" || s.config.KeyFile == "") {
		return s.startInsecure(ctx)
	}
	return s.startSecure(ctx)
}

func (s *DTLSServer) startSecure(ctx context.Context) error {
	cert, err := tls.LoadX509KeyPair(s.config.CertFile, s.config.KeyFile)
	if err != nil {
		return fmt.Errorf("load DTLS certificate: %w", err)
	}

	dtlsConfig := &dtls.Config{
		Certificates:         []tls.Certificate{cert},
		ExtendedMasterSecret: dtls.RequireExtendedMasterSecret,
		ConnectContextMaker: func() (context.Context, func()) {
			return context.WithTimeout(ctx, s.config.ConnectionTimeout)
		},
	}

	if s.config.RequireClientCert {
		caData, err := os.ReadFile(s.config.CAFile)
		if err != nil {
			return fmt.Errorf("load CA certificate: %w", err)
		}
		caPool := x509.NewCertPool()
		if !caPool.AppendCertsFromPEM(caData) {
			return errors.New("parse CA certificate")
		}
		dtlsConfig.ClientCAs = caPool
		dtlsConfig.ClientAuth = dtls.RequireAndVerifyClientCert
	}

	addr, err := net.ResolveUDPAddr("udp", s.config.Address)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", s.config.Address, err)
	}

	listener, err := dtls.Listen("udp", addr, dtlsConfig)
	if err != nil {
		return fmt.Errorf("DTLS listen: %w", err)
	}
	s.listener = listener

	s.logger.Info("DTLS intake started",
		"address", s.config.Address,
		"mutual_tls", s.config.RequireClientCert,
	)

	datagrams := s.startWorkers(ctx)

	s.wg.Add(1)
	go s.acceptLoop(ctx, datagrams)
	return nil
}

func (s *DTLSServer) startInsecure(ctx context.Context) error {
	s.logger.Warn("starting UDP intake WITHOUT encryption",
		"address", s.config.Address,
		"recommendation", "use DTLS with certificates in production",
	)
	s.logger.Warn("alert payloads may identify camera locations and will travel in cleartext")
	s.insecureWarned = true

	addr, err := net.ResolveUDPAddr("udp", s.config.Address)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", s.config.Address, err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("UDP listen: %w", err)
	}
	s.udpConn = conn

	s.logger.Info("UDP intake started (insecure)", "address", s.config.Address)

	datagrams := s.startWorkers(ctx)

	s.wg.Add(1)
	go s.insecureReceiveLoop(ctx, datagrams)
	return nil
}

// startWorkers launches the decode workers and returns their feed.
func (s *DTLSServer) startWorkers(ctx context.Context) chan datagram {
	datagrams := make(chan datagram, s.config.Workers*100)
	for i := 0; i < s.config.Workers; i++ {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for d := range datagrams {
				s.ingestDatagram(ctx, d)
			}
		}()
	}
	return datagrams
}

func (s *DTLSServer) acceptLoop(ctx context.Context, datagrams chan datagram) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			close(datagrams)
			return
		case <-s.done:
			close(datagrams)
			return
		default:
		}

		if dl, ok := s.listener.(interface{ SetDeadline(time.Time) error }); ok {
			dl.SetDeadline(time.Now().Add(100 * time.Millisecond))
		}

		conn, err := s.listener.Accept()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			select {
			case <-s.done:
				return
			default:
				s.logger.Debug("DTLS accept error", "error", err)
				s.handshakeErrs.Add(1)
				continue
			}
		}

		s.connections.Add(1)
		s.handshakes.Add(1)

		s.wg.Add(1)
		go s.serveConn(ctx, conn, datagrams)
	}
}

// serveConn reads datagrams off one DTLS session until the peer goes
// idle or the server stops.
func (s *DTLSServer) serveConn(ctx context.Context, conn net.Conn, datagrams chan<- datagram) {
	defer s.wg.Done()
	defer conn.Close()

	sourceIP := remoteIP(conn)
	s.logger.Debug("new DTLS connection", "remote", sourceIP)

	buffer := make([]byte, s.config.MaxMessageSize)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		default:
		}

		conn.SetReadDeadline(time.Now().Add(s.config.IdleTimeout))

		n, err := conn.Read(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				s.logger.Debug("DTLS connection idle timeout", "remote", sourceIP)
			} else {
				s.logger.Debug("DTLS read error", "error", err, "remote", sourceIP)
			}
			return
		}

		s.received.Add(1)
		s.enqueue(datagrams, datagram{data: append([]byte(nil), buffer[:n]...), sourceIP: sourceIP, secure: true})
	}
}

func (s *DTLSServer) insecureReceiveLoop(ctx context.Context, datagrams chan<- datagram) {
	defer s.wg.Done()
	defer close(datagrams)

	buffer := make([]byte, s.config.MaxMessageSize)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		default:
		}

		s.udpConn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))

		n, remoteAddr, err := s.udpConn.ReadFromUDP(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			select {
			case <-s.done:
				return
			default:
				s.logger.Debug("UDP read error", "error", err)
				continue
			}
		}

		s.received.Add(1)
		s.enqueue(datagrams, datagram{data: append([]byte(nil), buffer[:n]...), sourceIP: remoteAddr.IP.String()})
	}
}

// enqueue hands a datagram to the workers, dropping it when they are
// all busy. UDP senders get no backpressure anyway.
func (s *DTLSServer) enqueue(datagrams chan<- datagram, d datagram) {
	select {
	case datagrams <- d:
	default:
		s.errorCount.Add(1)
		s.logger.Debug("datagram channel full, dropping", "source", d.sourceIP)
	}
}

// ingestDatagram decodes one alert and pushes it onto the ring buffer.
func (s *DTLSServer) ingestDatagram(ctx context.Context, d datagram) {
	var input schema.AlertInput
	if err := json.Unmarshal(d.data, &input); err != nil {
		s.errorCount.Add(1)
		s.logger.Debug("alert decode error",
			"error", err,
			"source", d.sourceIP,
			"secure", d.secure,
		)
		return
	}
	s.decoded.Add(1)

	alert := input.ToAlert(time.Now().UTC())
	if err := s.validator.Validate(alert); err != nil {
		s.errorCount.Add(1)
		s.logger.Debug("alert validation error", "error", err, "source", d.sourceIP)
		return
	}

	if err := s.queue.Push(alert); err != nil {
		s.errorCount.Add(1)
		return
	}
	s.queued.Add(1)
}

func (s *DTLSServer) Stop() {
	close(s.done)

	if s.listener != nil {
		s.listener.Close()
	}
	if s.udpConn != nil {
		s.udpConn.Close()
	}
	s.wg.Wait()

	s.logger.Info("DTLS intake stopped",
		"connections", s.connections.Load(),
		"handshakes", s.handshakes.Load(),
		"handshake_errors", s.handshakeErrs.Load(),
		"received", s.received.Load(),
		"queued", s.queued.Load(),
		"errors", s.errorCount.Load(),
	)
}

func (s *DTLSServer) Metrics() DTLSServerMetrics {
	return DTLSServerMetrics{
		Connections:    s.connections.Load(),
		Handshakes:     s.handshakes.Load(),
		HandshakeErrs:  s.handshakeErrs.Load(),
		Received:       s.received.Load(),
		Decoded:        s.decoded.Load(),
		Queued:         s.queued.Load(),
		Errors:         s.errorCount.Load(),
		InsecureWarned: s.insecureWarned,
	}
}

// IsSecure reports whether intake runs over DTLS rather than the plain
// UDP fallback.
func (s *DTLSServer) IsSecure() bool {
	return s.listener != nil && s.udpConn == nil
}

func remoteIP(conn net.Conn) string {
	addr := conn.RemoteAddr()
	if addr == nil {
		return ""
	}
	if udpAddr, ok := addr.(*net.UDPAddr); ok {
		return udpAddr.IP.String()
	}
	return addr.String()
}

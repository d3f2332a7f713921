package main

import (
	"fmt"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/astrogo/fitsio"
	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/dasdaq/xdmactl/axidma"
	"github.com/dasdaq/xdmactl/capture"
	"github.com/dasdaq/xdmactl/generichttp"
	"github.com/dasdaq/xdmactl/generichttp/dma"
	"github.com/dasdaq/xdmactl/generichttp/regs"
	"github.com/dasdaq/xdmactl/server"
	"github.com/dasdaq/xdmactl/server/middleware/locker"
	"github.com/dasdaq/xdmactl/xdma"
)

// CaptureConfig holds the defaults of the /capture route
type CaptureConfig struct {
	// Channel is the c2h channel samples are read from
	Channel int `yaml:"Channel" koanf:"Channel"`

	// Addr is the card address of the sample buffer, negative for a stream endpoint
	Addr int64 `yaml:"Addr" koanf:"Addr"`

	// Rows and Cols size the frame
	Rows int `yaml:"Rows" koanf:"Rows"`
	Cols int `yaml:"Cols" koanf:"Cols"`

	// Record saves every captured frame under Root, see capture.Recorder
	Record bool   `yaml:"Record" koanf:"Record"`
	Root   string `yaml:"Root" koanf:"Root"`
	Prefix string `yaml:"Prefix" koanf:"Prefix"`
}

// Config is a struct that holds the initialization parameters of the server.
// It is to be populated by koanf.
type Config struct {
	// Addr is the address to listen at
	Addr string `yaml:"Addr" koanf:"Addr"`

	// DevDir is the directory searched for cards
	DevDir string `yaml:"DevDir" koanf:"DevDir"`

	// Prefix is the file name prefix of the card device files
	Prefix string `yaml:"Prefix" koanf:"Prefix"`

	// Cards is the list of card roots to serve, e.g. /dev/xdma0.  If empty,
	// every card found in DevDir is served
	Cards []string `yaml:"Cards" koanf:"Cards"`

	// Naming is the driver's file naming convention, linux or windows
	Naming string `yaml:"Naming" koanf:"Naming"`

	// Access is the register access style, handle or map
	Access string `yaml:"Access" koanf:"Access"`

	DMACapacity  int64 `yaml:"DMACapacity" koanf:"DMACapacity"`
	UserCapacity int64 `yaml:"UserCapacity" koanf:"UserCapacity"`

	// EngineBase is the offset of the AXI DMA register block in the user BAR
	EngineBase int64 `yaml:"EngineBase" koanf:"EngineBase"`

	// EngineCapacity is the size of the AXI DMA register block
	EngineCapacity int64 `yaml:"EngineCapacity" koanf:"EngineCapacity"`

	// Settle is how long a channel is left to run after a start before its status is trusted
	Settle time.Duration `yaml:"Settle" koanf:"Settle"`

	// LogLevel is a logrus level, e.g. debug, info, warn
	LogLevel string `yaml:"LogLevel" koanf:"LogLevel"`

	// LogFormat is text or json
	LogFormat string `yaml:"LogFormat" koanf:"LogFormat"`

	// Metrics enables the /metrics route
	Metrics bool `yaml:"Metrics" koanf:"Metrics"`

	Capture CaptureConfig `yaml:"Capture" koanf:"Capture"`
}

// DefaultConfig is the configuration used where the config file is silent
func DefaultConfig() Config {
	return Config{
		Addr:           ":8000",
		DevDir:         "/dev",
		Prefix:         "xdma",
		Cards:          []string{},
		Naming:         "linux",
		Access:         "handle",
		DMACapacity:    xdma.DefaultCapacity,
		UserCapacity:   xdma.DefaultCapacity,
		EngineBase:     0x14_0000,
		EngineCapacity: 0x1_0000,
		Settle:         axidma.DefaultSettleTime,
		LogLevel:       "info",
		LogFormat:      "text",
		Metrics:        true,
		Capture: CaptureConfig{
			Channel: 0,
			Addr:    0,
			Rows:    1024,
			Cols:    8,
			Record:  false,
			Root:    "captures",
			Prefix:  "frame_"}}
}

// SetupLogging applies the level and format of c to the standard logger
func SetupLogging(c Config) error {
	lvl, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return err
	}
	logrus.SetLevel(lvl)
	switch c.LogFormat {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	case "text", "":
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return fmt.Errorf("log format must be a member of {text, json}, got %q", c.LogFormat)
	}
	return nil
}

// CardRoots returns the configured card roots, or those discovered in DevDir
func CardRoots(c Config) ([]string, error) {
	if len(c.Cards) != 0 {
		return c.Cards, nil
	}
	return xdma.DevicePaths(c.DevDir, c.Prefix)
}

// OpenCard builds the card at root per c
func OpenCard(c Config, root string) (*xdma.Card, error) {
	naming, err := xdma.ParseNaming(c.Naming)
	if err != nil {
		return nil, err
	}
	access, err := xdma.ParseAccessMode(c.Access)
	if err != nil {
		return nil, err
	}
	card, err := xdma.NewCard(xdma.OSFileSystem{}, naming, root, c.DMACapacity, c.UserCapacity)
	if err != nil {
		return nil, err
	}
	card.SetAccess(access)
	return card, nil
}

// CardServer is the HTTP face of one card.  Every route of the card shares
// one mutex so register sequences from different requests never interleave.
type CardServer struct {
	Name   string
	Card   *xdma.Card
	Engine *axidma.Engine

	// Capture holds the defaults of the /capture route
	Capture CaptureConfig

	// Recorder saves captured frames while enabled
	Recorder *capture.Recorder

	mu     sync.Mutex
	locker *locker.Locker
}

// NewCardServer creates a card server, the AXI DMA engine is found in the
// user BAR at c.EngineBase
func NewCardServer(c Config, card *xdma.Card) (*CardServer, error) {
	window, err := card.User.Remap(c.EngineBase, c.EngineCapacity)
	if err != nil {
		return nil, err
	}
	e := axidma.NewEngine(window)
	e.SettleTime = c.Settle
	e.Log = logrus.WithField("card", filepath.Base(card.Root))
	name := filepath.Base(card.Root)
	return &CardServer{
		Name:     name,
		Card:     card,
		Engine:   e,
		Capture:  c.Capture,
		Recorder: capture.NewRecorder(filepath.Join(c.Capture.Root, name), c.Capture.Prefix, c.Capture.Record),
		locker:   locker.New()}, nil
}

// Route binds the card's routes to r
func (s *CardServer) Route(r chi.Router) {
	r.Use(s.locker.Check)
	r.Use(locker.Serialize(&s.mu))

	user := regs.NewHTTPRegisters(s.Card.User)
	control := regs.NewHTTPRegisters(s.Card.Control)
	engine := dma.NewHTTPEngine(s.Engine, s.Card.DMA[0])
	locker.Inject(engine, s.locker)

	r.Route("/user", func(r chi.Router) { user.RT().Bind(r) })
	r.Route("/control", func(r chi.Router) { control.RT().Bind(r) })
	r.Route("/dma", func(r chi.Router) { engine.RT().Bind(r) })
	r.Get("/engines", generichttp.GetJSON(s.Card.Engines))
	r.Get("/config", generichttp.GetString(s.Card.Config))
	frames := generichttp.RouteTable{
		generichttp.MethodPath{Method: http.MethodGet, Path: "/"}: s.HTTPCapture,
	}
	s.Recorder.Inject(frames)
	r.Route("/capture", func(r chi.Router) { frames.Bind(r) })
}

// HTTPCapture reads one frame from a c2h channel and replies with it as a
// FITS file.  The query parameters channel, addr, rows, and cols override
// the configured defaults.  Negative addresses are given as addr=stream.
// While the recorder is enabled the frame is also saved to disk and the
// path is returned in the X-Capture-File header.
func (s *CardServer) HTTPCapture(w http.ResponseWriter, r *http.Request) {
	c := s.Capture
	q := r.URL.Query()
	if str := q.Get("addr"); str != "" {
		if str == "stream" {
			c.Addr = -1
		} else {
			addr, err := generichttp.ParseAddress(str)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			c.Addr = addr
		}
	}
	ch, err := generichttp.QueryUint(r, "channel", uint64(max(c.Channel, 0)))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if ch >= uint64(len(s.Card.C2H)) {
		http.Error(w, fmt.Sprintf("channel %d does not exist", ch), http.StatusNotFound)
		return
	}
	c.Channel = int(ch)
	for _, p := range []struct {
		name string
		dst  *int
	}{{"rows", &c.Rows}, {"cols", &c.Cols}} {
		v, err := generichttp.QueryUint(r, p.name, uint64(max(*p.dst, 0)))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if v > capture.MaxSamples {
			regs.Error(w, fmt.Errorf("%s=%d: %w", p.name, v, capture.ErrFrameTooLarge))
			return
		}
		*p.dst = int(v)
	}
	frame, err := capture.Read(s.Card.C2H[c.Channel], c.Addr, c.Rows, c.Cols)
	if err != nil {
		regs.Error(w, err)
		return
	}
	meta := fitsio.Card{Name: "CARD", Value: s.Name, Comment: "card the frame was read from"}
	if s.Recorder.Settings().Enabled {
		fn, err := s.Recorder.Save(frame, meta)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		logrus.WithField("file", fn).Info("frame saved")
		w.Header().Set("X-Capture-File", fn)
	}
	w.Header().Set("Content-Type", "application/fits")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s_c2h_%d.fits", s.Name, c.Channel))
	err = frame.WriteFITS(w, meta)
	if err != nil {
		logrus.WithError(err).Error("writing FITS")
	}
}

// Collectors returns gauges reporting the state of both DMA channels.  The
// gauges take the card mutex, a scrape never interleaves with a request.
func (s *CardServer) Collectors() []prometheus.Collector {
	var out []prometheus.Collector
	for _, ch := range []axidma.Channel{s.Engine.TX(), s.Engine.RX()} {
		labels := prometheus.Labels{"card": s.Name, "channel": ch.Name}
		gauge := func(name, help string, pick func(axidma.Status) bool) prometheus.Collector {
			return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace:   "xdma",
				Subsystem:   "axidma",
				Name:        name,
				Help:        help,
				ConstLabels: labels,
			}, func() float64 {
				s.mu.Lock()
				defer s.mu.Unlock()
				st, err := ch.Status()
				if err != nil {
					return -1
				}
				if pick(st) {
					return 1
				}
				return 0
			})
		}
		out = append(out,
			gauge("halted", "1 if the channel is halted, -1 if the status could not be read",
				func(st axidma.Status) bool { return st.Halted }),
			gauge("idle", "1 if the channel is idle, -1 if the status could not be read",
				func(st axidma.Status) bool { return st.Idle }),
			gauge("error", "1 if the channel reports any error, -1 if the status could not be read",
				axidma.Status.HasError),
		)
	}
	return out
}

// BuildMux makes a chi router serving every card under /<card name>, e.g.
// /xdma0/user/register/0x10.  The root serves /cards, and /metrics if enabled.
func BuildMux(c Config, cards []*xdma.Card) (chi.Router, error) {
	root := chi.NewRouter()
	root.Use(middleware.Logger)

	var (
		names   []string
		handler = func(h http.HandlerFunc) http.HandlerFunc { return h }
	)
	if c.Metrics {
		requests := prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "xdma",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests handled, by status code and method",
		}, []string{"code", "method"})
		if err := prometheus.Register(requests); err != nil {
			return nil, err
		}
		handler = func(h http.HandlerFunc) http.HandlerFunc {
			return promhttp.InstrumentHandlerCounter(requests, h)
		}
		root.Handle("/metrics", promhttp.Handler())
	}

	for _, card := range cards {
		srv, err := NewCardServer(c, card)
		if err != nil {
			return nil, err
		}
		if c.Metrics {
			for _, col := range srv.Collectors() {
				if err := prometheus.Register(col); err != nil {
					return nil, err
				}
			}
		}
		sub := chi.NewRouter()
		srv.Route(sub)
		root.Mount(generichttp.SubMuxSanitize(srv.Name), handler(sub.ServeHTTP))
		names = append(names, srv.Name)
		logrus.WithFields(logrus.Fields{"card": srv.Name, "root": card.Root}).Info("serving card")
	}
	root.Get("/cards", func(w http.ResponseWriter, r *http.Request) {
		server.ReplyJSON(w, names)
	})
	return root, nil
}

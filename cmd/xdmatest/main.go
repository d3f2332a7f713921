package main

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/sirupsen/logrus"

	yml "gopkg.in/yaml.v2"

	"github.com/dasdaq/xdmactl/axidma"
	"github.com/dasdaq/xdmactl/capture"
	"github.com/dasdaq/xdmactl/xdma"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "xdmatest.yml"
	k              = koanf.New(".")
)

func setupconfig() {
	k.Load(structs.Provider(DefaultConfig(), "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			logrus.Fatalf("error loading config: %v", err)
		}
	}
}

func loadconfig() Config {
	c := Config{}
	if err := k.Unmarshal("", &c); err != nil {
		logrus.Fatal(err)
	}
	lvl, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		logrus.Fatal(err)
	}
	logrus.SetLevel(lvl)
	return c
}

func root() {
	str := `xdmatest exercises an XDMA card and the AXI DMA engine in its user BAR.

Usage:
	xdmatest <command> [args]

Commands:
	list
	info
	integrity [channel] [size]
	bandwidth [channel] [block size] [blocks]
	sg        <channel> <start> <end> [cyclic]
	ring      <channel> <offset> <n> <length> <buffer base> [cyclic]
	direct    <channel> <addr> <length>
	capture   <file.fits> [addr] [rows] [cols] [c2h channel]
	mkconf
	conf
	version

Numbers may be given in any base Go understands, e.g. 4096, 0x1000, 0o10000.
channel is tx (mm2s) or rx (s2mm) for sg, ring and direct, and the index of
the c2h/h2c pair for integrity and bandwidth.  A capture address of -1 reads
the c2h channel as a stream.`
	fmt.Println(str)
}

func mkconf() {
	c := Config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		logrus.Fatal(err)
	}
	f, err := os.Create(ConfigFileName)
	if err != nil {
		logrus.Fatal(err)
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(c)
	if err != nil {
		logrus.Fatal(err)
	}
}

func printconf() {
	c := Config{}
	k.Unmarshal("", &c)
	err := yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		logrus.Fatal(err)
	}
}

func printjson(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		logrus.Fatal(err)
	}
}

func list(c Config) {
	roots, err := xdma.DevicePaths(c.DevDir, c.Prefix)
	if err != nil {
		logrus.Fatal(err)
	}
	for _, r := range roots {
		fmt.Println(r)
	}
}

func info(rig *Rig) {
	fmt.Println(rig.Card)
	cfg, err := rig.Card.Config()
	if err != nil {
		logrus.Fatal(err)
	}
	fmt.Println("interface:", cfg)
	engines, err := rig.Card.Engines()
	if err != nil {
		logrus.Fatal(err)
	}
	for _, e := range engines {
		fmt.Println(e)
	}
	nfo, err := rig.Engine.Info()
	if err != nil {
		logrus.Fatal(err)
	}
	printjson(nfo)
}

func pair(rig *Rig, args Args) *xdma.Device {
	ch, err := args.Uint(0, 0)
	if err != nil {
		logrus.Fatal(err)
	}
	if int(ch) >= len(rig.Card.DMA) {
		logrus.Fatalf("channel %d does not exist", ch)
	}
	return rig.Card.DMA[ch]
}

func integrity(rig *Rig, args Args) {
	d := pair(rig, args)
	size, err := args.Uint(1, xdma.IntegritySize)
	if err != nil {
		logrus.Fatal(err)
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	var report xdma.IntegrityReport
	err = spin("integrity "+d.String(), func() error {
		var err error
		report, err = xdma.Integrity(d, int(size), rng)
		return err
	})
	if err != nil {
		logrus.Fatal(err)
	}
	fmt.Println(report)
	if !report.Passed() {
		os.Exit(1)
	}
}

func bandwidth(rig *Rig, args Args) {
	d := pair(rig, args)
	block, err := args.Uint(1, 1<<20)
	if err != nil {
		logrus.Fatal(err)
	}
	count, err := args.Uint(2, xdma.BandwidthBlocks)
	if err != nil {
		logrus.Fatal(err)
	}
	var report xdma.BandwidthReport
	err = spin(fmt.Sprintf("bandwidth %d x %d bytes", count, block), func() error {
		var err error
		report, err = xdma.Bandwidth(d, int(block), int(count))
		return err
	})
	if err != nil {
		logrus.Fatal(err)
	}
	fmt.Println(report)
}

func channel(rig *Rig, args Args) axidma.Channel {
	if len(args) == 0 {
		logrus.Fatal("a channel (tx or rx) is required")
	}
	ch, err := rig.Engine.Channel(args[0])
	if err != nil {
		logrus.Fatal(err)
	}
	return ch
}

// settle waits out the engine's settle time behind a spinner and prints the status
func settle(ch axidma.Channel) {
	var st axidma.Status
	err := spin("settling "+ch.Name, func() error {
		var err error
		st, err = ch.Settle()
		return err
	})
	if err != nil {
		logrus.Fatal(err)
	}
	fmt.Println(st)
}

func sg(rig *Rig, args Args) {
	ch := channel(rig, args)
	if len(args) < 3 {
		logrus.Fatal("sg requires a start and end descriptor address")
	}
	start, err := args.Uint(1, 0)
	if err != nil {
		logrus.Fatal(err)
	}
	end, err := args.Uint(2, 0)
	if err != nil {
		logrus.Fatal(err)
	}
	cyclic, err := args.Bool(3, false)
	if err != nil {
		logrus.Fatal(err)
	}
	live, err := ch.StartScatterGather(start, end, cyclic)
	if err != nil {
		logrus.Fatal(err)
	}
	fmt.Println("live:", live)
	settle(ch)
}

func ring(rig *Rig, args Args) {
	ch := channel(rig, args)
	if len(args) < 5 {
		logrus.Fatal("ring requires an offset, descriptor count, buffer length, and buffer base")
	}
	var v [4]uint64
	for i := range v {
		var err error
		if v[i], err = args.Uint(i+1, 0); err != nil {
			logrus.Fatal(err)
		}
	}
	cyclic, err := args.Bool(5, false)
	if err != nil {
		logrus.Fatal(err)
	}
	r, live, err := rig.StartRing(ch, v[0], int(v[1]), uint32(v[2]), v[3], cyclic)
	if err != nil {
		logrus.Fatal(err)
	}
	fmt.Printf("ring [%#x, %#x] live: %v\n", r.Start(), r.End(), live)
	settle(ch)
	r, err = rig.ReloadRing(r)
	if err != nil {
		logrus.Fatal(err)
	}
	printjson(r.Progress())
}

func direct(rig *Rig, args Args) {
	ch := channel(rig, args)
	if len(args) < 3 {
		logrus.Fatal("direct requires an address and length")
	}
	addr, err := args.Uint(1, 0)
	if err != nil {
		logrus.Fatal(err)
	}
	length, err := args.Uint(2, 0)
	if err != nil {
		logrus.Fatal(err)
	}
	if length >= axidma.MaxBufferLength {
		logrus.Fatal(axidma.ErrBufferTooLarge)
	}
	if err := ch.DirectTransfer(addr, uint32(length)); err != nil {
		logrus.Fatal(err)
	}
	var st axidma.Status
	err = spin("waiting for "+ch.Name, func() error {
		var err error
		st, err = ch.WaitIdle(rig.Timeout)
		return err
	})
	if err != nil {
		logrus.Fatal(err)
	}
	n, err := ch.Length()
	if err != nil {
		logrus.Fatal(err)
	}
	fmt.Println(st)
	fmt.Println("length:", n)
}

func capt(rig *Rig, args []string) {
	if len(args) == 0 {
		logrus.Fatal("capture requires an output file")
	}
	out := args[0]
	var (
		addr int64
		err  error
	)
	if len(args) > 1 {
		if addr, err = strconv.ParseInt(args[1], 0, 64); err != nil {
			logrus.Fatal(err)
		}
	}
	rest := Args(args[1:])
	rows, err := rest.Uint(1, 1024)
	if err != nil {
		logrus.Fatal(err)
	}
	cols, err := rest.Uint(2, 8)
	if err != nil {
		logrus.Fatal(err)
	}
	ch, err := rest.Uint(3, 0)
	if err != nil {
		logrus.Fatal(err)
	}
	if int(ch) >= len(rig.Card.C2H) {
		logrus.Fatalf("channel %d does not exist", ch)
	}
	frame, err := capture.Read(rig.Card.C2H[ch], addr, int(rows), int(cols))
	if err != nil {
		logrus.Fatal(err)
	}
	f, err := os.Create(out)
	if err != nil {
		logrus.Fatal(err)
	}
	defer f.Close()
	if err := frame.WriteFITS(f); err != nil {
		logrus.Fatal(err)
	}
	fmt.Printf("wrote %dx%d frame to %s\n", frame.Rows, frame.Cols, out)
}

func main() {
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	setupconfig()
	cmd := strings.ToLower(args[1])
	switch cmd {
	case "help":
		root()
		return
	case "mkconf":
		mkconf()
		return
	case "conf":
		printconf()
		return
	case "version":
		fmt.Printf("xdmatest version %v\n", Version)
		return
	case "list":
		list(loadconfig())
		return
	}
	rig, err := NewRig(loadconfig())
	if err != nil {
		logrus.Fatal(err)
	}
	rest := Args(args[2:])
	switch cmd {
	case "info":
		info(rig)
	case "integrity":
		integrity(rig, rest)
	case "bandwidth":
		bandwidth(rig, rest)
	case "sg":
		sg(rig, rest)
	case "ring":
		ring(rig, rest)
	case "direct":
		direct(rig, rest)
	case "capture":
		capt(rig, rest)
	default:
		logrus.Fatal("unknown command")
	}
}

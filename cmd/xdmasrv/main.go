package main

import (
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/sirupsen/logrus"

	yml "gopkg.in/yaml.v2"

	"github.com/dasdaq/xdmactl/xdma"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "xdmasrv.yml"
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
	if err := SetupLogging(c); err != nil {
		logrus.Fatal(err)
	}
	return c
}

func root() {
	str := `xdmasrv exposes the register spaces and AXI DMA engine of Xilinx XDMA
PCIe cards over HTTP.  This enables a server-client architecture, and the
clients can leverage the excellent HTTP libraries for any programming language.

Usage:
	xdmasrv <command>

Commands:
	run
	help
	mkconf
	conf
	version
	list`
	fmt.Println(str)
}

func help() {
	str := `xdmasrv is amenable to configuration via its .yml file.  For a primer on YAML, see
https://yaml.org/start.html

Without Cards, every card found in DevDir (files starting with Prefix, e.g.
/dev/xdma0_user) is served.  Each card is served under /<name>, e.g. /xdma0:

	/xdma0/user/...      registers of the user BAR
	/xdma0/control/...   registers of the XDMA IP
	/xdma0/dma/...       the AXI DMA engine at EngineBase in the user BAR
	/xdma0/engines       the XDMA engines found in the control BAR
	/xdma0/config        AXI4-Stream or AXI4 Memory Mapped
	/xdma0/capture       one frame of samples from a c2h channel, as FITS

Every sub-tree serves /endpoints, which lists its routes.  While a card is
locked (POST /xdma0/dma/lock {"bool": true}) its routes return 423.

Access selects how registers are reached, "handle" (seek + read/write) or
"map" (mmap, unix only).  Naming is "linux" or "windows".

/metrics is served in the prometheus exposition format when Metrics is true.`
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

func pversion() {
	fmt.Printf("xdmasrv version %v\n", Version)
}

func list() {
	c := loadconfig()
	roots, err := CardRoots(c)
	if err != nil {
		logrus.Fatal(err)
	}
	for _, r := range roots {
		card, err := OpenCard(c, r)
		if err != nil {
			logrus.Fatal(err)
		}
		fmt.Println(card)
	}
}

func run() {
	c := loadconfig()
	roots, err := CardRoots(c)
	if err != nil {
		logrus.Fatal(err)
	}
	if len(roots) == 0 {
		logrus.Fatalf("no cards found in %s with prefix %s", c.DevDir, c.Prefix)
	}
	var cards []*xdma.Card
	for _, r := range roots {
		card, err := OpenCard(c, r)
		if err != nil {
			logrus.Fatal(err)
		}
		cards = append(cards, card)
	}
	mux, err := BuildMux(c, cards)
	if err != nil {
		logrus.Fatal(err)
	}
	logrus.WithField("addr", c.Addr).Info("now listening for requests")
	logrus.Fatal(http.ListenAndServe(c.Addr, mux))
}

func main() {
	var cmd string
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	setupconfig()
	cmd = args[1]
	cmd = strings.ToLower(cmd)
	switch cmd {
	case "help":
		help()
		return
	case "mkconf":
		mkconf()
		return
	case "conf":
		printconf()
		return
	case "run":
		run()
		return
	case "version":
		pversion()
		return
	case "list":
		list()
		return
	default:
		logrus.Fatal("unknown command")
	}
}

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/netip"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/h2non/filetype"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"go2tv.app/castkit/devices"
	"go2tv.app/castkit/internal/config"
	"go2tv.app/castkit/internal/httphandlers"
	"go2tv.app/castkit/internal/interactive"
	"go2tv.app/castkit/internal/iptools"
)

var version = "dev"

var (
	errNoflag      = errors.New("no flag used")
	ErrNoTarget    = errors.New("either -r or -a is required")
	ErrNoCombi     = errors.New("can't combine -r with -p, -a or -port")
	ErrOneMedia    = errors.New("exactly one of -u or -v is required")
	ErrNoMediaType = errors.New("can't detect the media type, use -c")
)

type flagResults struct {
	info        devices.DeviceInfo
	mediaURL    string
	mediaFile   string
	contentType string
	configPath  string
	exit        bool
}

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, errNoflag) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Encountered error(s): %s\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	flagRes, err := processflags(args, stdout)
	if err != nil {
		return err
	}
	if flagRes.exit {
		return nil
	}

	exitCTX, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	conf, err := loadConfig(flagRes.configPath)
	if err != nil {
		return err
	}
	logger, closer, err := conf.Logger()
	if err != nil {
		return err
	}
	defer closer.Close()

	if flagRes.info.Name == "" {
		flagRes.info.Name = flagRes.info.AddrPorts()[0].String()
	}
	device, err := devices.New(flagRes.info, conf.DeviceOptions(logger)...)
	if err != nil {
		return err
	}

	mediaURL, title := flagRes.mediaURL, flagRes.mediaURL
	if flagRes.mediaFile != "" {
		s, err := startFileHost(flagRes.info.Addresses[0], logger)
		if err != nil {
			return err
		}
		defer s.StopServer()

		if mediaURL, err = s.Serve(flagRes.mediaFile); err != nil {
			return err
		}
		title = filepath.Base(flagRes.mediaFile)
	}

	scr, err := interactive.InitTcellNewScreen(device, title)
	if err != nil {
		return err
	}

	ctx, stop := context.WithCancel(exitCTX)
	defer stop()
	if err := device.Connect(&remote{Screen: scr, stop: stop}); err != nil {
		return err
	}
	defer device.Disconnect()

	meta := devices.WithMetadata(devices.Metadata{Title: title})
	if err := device.LoadURL(flagRes.contentType, mediaURL, nil, nil, meta); err != nil {
		return err
	}

	return scr.Run(ctx)
}

// remote ends the session once the device gives up reconnecting.
type remote struct {
	*interactive.Screen
	stop context.CancelFunc
}

func (r *remote) ConnectionStateChanged(s devices.ConnectionStatus) {
	r.Screen.ConnectionStateChanged(s)
	if s.State == devices.Disconnected {
		r.stop()
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.GetAppConfig()
	}
	return config.Load(path)
}

func startFileHost(receiver netip.Addr, logger zerolog.Logger) (*httphandlers.HTTPserver, error) {
	addr, err := iptools.ListenAddrFor(receiver)
	if err != nil {
		return nil, err
	}

	s := httphandlers.NewServer(addr)
	s.Logger = logger
	serverStarted := make(chan struct{})
	errs := make(chan error, 1)
	go func() { errs <- s.StartServer(serverStarted) }()

	select {
	case <-serverStarted:
		return s, nil
	case err := <-errs:
		return nil, err
	}
}

func processflags(args []string, stdout io.Writer) (*flagResults, error) {
	fs := flag.NewFlagSet("castkit", flag.ContinueOnError)
	fs.SetOutput(stdout)
	var (
		protoArg   = fs.String("p", "fcast", "Receiver protocol: fcast, chromecast, airplay or airplay2.")
		addrArg    = fs.String("a", "", "Comma separated receiver IP addresses.")
		portArg    = fs.Uint("port", 0, "Receiver port. Defaults to the protocol's port.")
		receiver   = fs.String("r", "", "fcast:// receiver URL, as shown in the receiver's QR code.")
		urlArg     = fs.String("u", "", "HTTP URL of the media to cast.")
		mediaArg   = fs.String("v", "", "Local path to the media file to cast.")
		ctypeArg   = fs.String("c", "", "Content type of the media. Detected from the file when empty.")
		configArg  = fs.String("config", "", "Settings file. Defaults to the user config directory.")
		versionPtr = fs.Bool("version", false, "Print version.")
	)

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, fmt.Errorf("checkflags error: %w", errNoflag)
		}
		return nil, err
	}

	res := &flagResults{configPath: *configArg}
	if *versionPtr {
		fmt.Fprintf(stdout, "castkit Version: %s\n", version)
		res.exit = true
		return res, nil
	}
	if fs.NFlag() == 0 {
		fs.Usage()
		return nil, fmt.Errorf("checkflags error: %w", errNoflag)
	}

	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	var err error
	if res.info, err = checkTarget(*receiver, *protoArg, *addrArg, *portArg, set); err != nil {
		return nil, fmt.Errorf("checkflags error: %w", err)
	}
	if err := checkMedia(res, *urlArg, *mediaArg, *ctypeArg); err != nil {
		return nil, fmt.Errorf("checkflags error: %w", err)
	}
	return res, nil
}

func checkTarget(receiver, proto, addrs string, port uint, set map[string]bool) (devices.DeviceInfo, error) {
	if receiver != "" {
		if set["p"] || set["a"] || set["port"] {
			return devices.DeviceInfo{}, ErrNoCombi
		}
		info, err := devices.ParseFCastURL(receiver)
		if err == nil && len(info.Addresses) == 0 {
			err = devices.ErrMissingAddresses
		}
		return info, err
	}
	if addrs == "" {
		return devices.DeviceInfo{}, ErrNoTarget
	}

	p, err := devices.ParseProtocol(proto)
	if err != nil {
		return devices.DeviceInfo{}, err
	}
	info := devices.DeviceInfo{Protocol: p, Port: p.DefaultPort()}
	if port != 0 {
		if port > 65535 {
			return devices.DeviceInfo{}, fmt.Errorf("checkTarget port error: %d out of range", port)
		}
		info.Port = uint16(port)
	}

	for a := range strings.SplitSeq(addrs, ",") {
		ip, err := netip.ParseAddr(strings.TrimSpace(a))
		if err != nil {
			return devices.DeviceInfo{}, fmt.Errorf("checkTarget address error: %w", err)
		}
		info.Addresses = append(info.Addresses, ip)
	}
	return info, nil
}

func checkMedia(res *flagResults, mediaURL, mediaFile, contentType string) error {
	if (mediaURL == "") == (mediaFile == "") {
		return ErrOneMedia
	}
	res.contentType = contentType

	if mediaURL != "" {
		u, err := url.ParseRequestURI(mediaURL)
		if err != nil {
			return fmt.Errorf("checkMedia parse error: %w", err)
		}
		res.mediaURL = u.String()
		if res.contentType == "" {
			res.contentType = typeFromExtension(u.Path)
		}
	} else {
		abs, err := filepath.Abs(mediaFile)
		if err != nil {
			return fmt.Errorf("checkMedia path error: %w", err)
		}
		if _, err := os.Stat(abs); err != nil {
			return fmt.Errorf("checkMedia error: %w", err)
		}
		res.mediaFile = abs
		if res.contentType == "" {
			res.contentType = httphandlers.ContentType(abs)
		}
		if res.contentType == "" {
			res.contentType = typeFromExtension(abs)
		}
	}

	if res.contentType == "" {
		return ErrNoMediaType
	}
	return nil
}

// typeFromExtension covers streaming manifests filetype can't sniff.
func typeFromExtension(path string) string {
	switch ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), ".")); ext {
	case "m3u8":
		return "application/vnd.apple.mpegurl"
	case "mpd":
		return "application/dash+xml"
	case "":
		return ""
	default:
		return filetype.GetType(ext).MIME.Value
	}
}

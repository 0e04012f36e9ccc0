package domain

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"reflect"

	configKit "github.com/gookit/config/v2"
	"github.com/gookit/config/v2/yaml"
	"github.com/imdario/mergo"
	"github.com/mitchellh/mapstructure"
)

const (
	OptionName = "name"
	OptionDesc = "description"
)

// PrometheusEndpoint is the default endpoint for prometheus scraping requests.
const PrometheusEndpoint = "/metrics"

// Configuration encapsulates the configuration for the backend.
// These are all parsed and converted into flag arguments using the
// provided 'flag' package (i.e., the one that's part of the standard library).
type Configuration struct {
	YAML string `name:"yaml" description:"Path to config file in the yml format."`

	ServerPort       int    `name:"server-port" description:"Port that the HTTP server listens on."`
	BaseListenPrefix string `name:"base-listen-prefix" description:"Base path prefix under which all routes are registered. Useful behind a reverse proxy."`

	SessionsDirectory    string `name:"sessions-directory" description:"Base directory under which per-session working directories are created."`
	SessionRetentionDays int    `name:"session-retention-days" description:"Sessions older than this many days are removed by the retention sweep at startup. 0 disables the sweep."`

	ExecutorWorkers   int `name:"executor-workers" description:"Number of background workers executing training sessions."`
	ExecutorQueueSize int `name:"executor-queue-size" description:"Capacity of the background executor's task queue."`

	PushUpdateInterval int `name:"push-update-interval" description:"How frequently, in seconds, the server pushes status updates for active sessions over the status websocket."`

	ExpectedOriginPort      int    `name:"expected-origin-port" description:"Port of the expected origin for websocket upgrade requests."`
	ExpectedOriginAddresses string `name:"expected_websocket_origins" json:"expected_websocket_origins" yaml:"expected_websocket_origins" description:"Comma-separated list of addresses (without ports) that are acceptable origins for the websocket connection upgrader."`

	PrometheusEndpoint string `name:"prometheus-endpoint" description:"Endpoint to serve prometheus metrics scraping requests. Defined separately from the base-listen-prefix."`

	DefaultTimeLimitSec int  `name:"default-time-limit-seconds" description:"Wall-clock training budget, in seconds, applied when a submission does not specify one. 0 means unlimited."`
	Debug               bool `name:"debug" description:"Display debug logs."`
}

func GetDefaultConfig() *Configuration {
	return &Configuration{
		ServerPort:              8000,
		BaseListenPrefix:        "/",
		SessionsDirectory:       "./sessions",
		SessionRetentionDays:    7,
		ExecutorWorkers:         4,
		ExecutorQueueSize:       128,
		PushUpdateInterval:      1,
		ExpectedOriginPort:      9001,
		ExpectedOriginAddresses: "localhost,127.0.0.1",
		PrometheusEndpoint:      PrometheusEndpoint,
	}
}

func (opts *Configuration) String() string {
	out, err := json.MarshalIndent(opts, "", "  ")
	if err != nil {
		panic(err)
	}

	return string(out)
}

// CheckUsage registers one flag per tagged Configuration field, parses the
// command line, and overlays the YAML config file (if one was given) on top
// of whatever the flags produced.
func (opts *Configuration) CheckUsage() {
	var printInfo bool
	flag.BoolVar(&printInfo, "h", false, "help info?")

	oType := reflect.TypeOf(opts).Elem()
	oVal := reflect.ValueOf(opts).Elem()
	numField := oType.NumField()
	for i := 0; i < numField; i++ {
		field := oType.Field(i)
		if field.PkgPath != "" {
			continue
		}

		name := field.Tag.Get(OptionName)
		if name == "" {
			continue
		}
		desc := field.Tag.Get(OptionDesc)
		opt := oVal.Field(i)
		switch field.Type.Kind() {
		case reflect.Bool:
			flag.BoolVar(opt.Addr().Interface().(*bool), name, opt.Bool(), desc)
		case reflect.Int:
			flag.IntVar(opt.Addr().Interface().(*int), name, int(opt.Int()), desc)
		case reflect.Int64:
			flag.Int64Var(opt.Addr().Interface().(*int64), name, opt.Int(), desc)
		case reflect.Float64:
			flag.Float64Var(opt.Addr().Interface().(*float64), name, opt.Float(), desc)
		case reflect.String:
			flag.StringVar(opt.Addr().Interface().(*string), name, opt.String(), desc)
		default:
			panic(fmt.Errorf("unsupported config type: %v", field.Type.Kind()))
		}
	}

	flag.Parse()

	if printInfo {
		_, _ = fmt.Fprintf(os.Stderr, "Usage: ./forecast-backend [options]\n")
		_, _ = fmt.Fprintf(os.Stderr, "Available options:\n")
		flag.PrintDefaults()
		os.Exit(0)
	}

	if opts.YAML != "" {
		fmt.Printf("Reading configuration from file: \"%s\"\n", opts.YAML)
		configKit.WithOptions(func(opt *configKit.Options) {
			opt.SetTagName(OptionName)
			// DecoderConfig initialization is due a bug in configKit: no TagName will be applied if DecoderConfig is nil.
			opt.DecoderConfig = &mapstructure.DecoderConfig{}
		})
		configKit.AddDriver(yaml.Driver)
		if err := configKit.LoadFiles(opts.YAML); err != nil {
			panic(err)
		}
		fileOpts := &Configuration{}
		if err := configKit.BindStruct("", fileOpts); err != nil {
			panic(err)
		}

		if err := mergo.Merge(opts, fileOpts, mergo.WithOverride); err != nil {
			panic(err)
		}
	}

	if opts.ExecutorWorkers <= 0 {
		opts.ExecutorWorkers = 4
	}
	if opts.ExecutorQueueSize <= 0 {
		opts.ExecutorQueueSize = 128
	}
	if opts.BaseListenPrefix == "" {
		opts.BaseListenPrefix = "/"
	}
}

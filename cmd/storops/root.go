package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/andrej220/storops/internal/devices"
	"github.com/andrej220/storops/internal/errs"
	"github.com/andrej220/storops/internal/executor"
	"github.com/andrej220/storops/internal/lg"
	"github.com/andrej220/storops/internal/operator"
	"github.com/andrej220/storops/internal/recorder"
	"github.com/andrej220/storops/internal/settings"
	"github.com/andrej220/storops/pkg/config"
)

const serviceName = "storops"

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

type cli struct {
	loader  *config.Loader
	cfgFile string
	flags   flagValues

	in     io.Reader
	out    io.Writer
	errOut io.Writer
}

// Execute runs the CLI and returns the process exit status.
func Execute(ctx context.Context, args []string, in io.Reader, out, errOut io.Writer) int {
	c := &cli{loader: config.NewLoader(), in: in, out: out, errOut: errOut}
	root, err := newRootCmd(c)
	if err != nil {
		fmt.Fprintf(errOut, "storops: %s\n", err)
		return 1
	}
	root.SetArgs(args)
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(errOut)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(errOut, "storops: %s\n", err)
		return errs.ExitCode(err)
	}
	return 0
}

func newRootCmd(c *cli) (*cobra.Command, error) {
	root := &cobra.Command{
		Use:   serviceName,
		Short: "Run declarative test workflows against CTA and Enstore nodes",
		Long: `storops resolves which storage service, device class and mover a node
runs, checks the requirements of a workflow and executes its commands on
the node, locally or over ssh, as one shell session.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&c.cfgFile, "config", "", "config file (default is storops.yaml in ., $HOME/.config/storops, /etc/storops)")
	pf.String("node", "", "target node (default is this host)")
	pf.String("user", "", "caller identity and remote login (default root)")
	pf.String("service", "", "service when the node registry has none: cta or enstore")
	pf.String("device", "", "device type when the node registry has none: tape or disk")
	pf.String("mover", "", "mover type when the node registry has none: spectra or ibm")
	pf.String("workflows-dir", "", "directory holding <service>/scripts/functions.json")
	pf.String("transport", "", "remote transport: ssh or native")
	pf.String("escape", "", "escaping of parameter values: strict or none")
	pf.BoolVarP(&c.flags.Quiet, "quiet", "q", false, "print nothing on stdout")
	pf.BoolVarP(&c.flags.Verbose, "verbose", "v", false, "print the script sent, stderr and debug logs")

	for key, flag := range map[string]string{
		"node":                "node",
		"user":                "user",
		"service":             "service",
		"device":              "device",
		"mover":               "mover",
		"workflows.dir":       "workflows-dir",
		"executor.transport":  "transport",
		"substitution.escape": "escape",
	} {
		if err := c.loader.BindFlag(key, pf.Lookup(flag)); err != nil {
			return nil, err
		}
	}

	detect := &cobra.Command{
		Use:   "detect",
		Short: "Detect the service installed on the node and select its mover",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("mover-index") {
				c.flags.MoverIndex = noMoverIndex
			}
			return c.execute(cmd.Context(), actionDetect, args)
		},
	}
	detect.Flags().BoolVar(&c.flags.Remote, "remote", false, "probe the node over ssh even if it is this host")
	detect.Flags().IntVar(&c.flags.MoverIndex, "mover-index", -1, "pick the n-th mover candidate instead of asking (-1 for none)")
	detect.Flags().BoolVar(&c.flags.Save, "save", false, "write the detected configuration to the registry file")

	run := &cobra.Command{
		Use:   "run <workflow>",
		Short: "Run a workflow on the node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.execute(cmd.Context(), actionRun, args)
		},
	}
	run.Flags().StringArrayVarP(&c.flags.Params, "param", "p", nil, "workflow parameter as key=value (repeatable)")

	root.AddCommand(
		detect,
		run,
		c.simple(actionList, "list", "List the tools installed for the service", cobra.NoArgs),
		c.simple(actionWorkflows, "workflows", "List the workflows of the service", cobra.NoArgs),
		c.simple(actionDescribe, "describe <workflow>", "Show the parameters of a workflow", cobra.ExactArgs(1)),
		c.simple(actionShow, "show", "Show the resolved configuration of the node", cobra.NoArgs),
		c.simple(actionTapeInfo, "tape-info", "Print the drive descriptors of this host as JSON", cobra.NoArgs),
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintln(cmd.OutOrStdout(), serviceName, version)
			},
		},
	)
	return root, nil
}

func (c *cli) simple(a action, use, short string, args cobra.PositionalArgs) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.execute(cmd.Context(), a, args)
		},
	}
}

// execute loads the configuration, parses the request and dispatches it.
func (c *cli) execute(ctx context.Context, a action, args []string) error {
	cfg, err := c.loader.Load(c.cfgFile)
	if err != nil {
		return &errs.ConfigurationError{Reason: err.Error()}
	}
	req, err := newRequest(a, cfg, c.flags, args)
	if err != nil {
		return err
	}

	log := lg.New(&lg.Config{
		ServiceName: serviceName,
		Debug:       cfg.Log.Debug || req.Verbosity == operator.Verbose,
		Format:      cfg.Log.Format,
	})
	if used := c.loader.ConfigFileUsed(); used != "" {
		log.Debug("configuration loaded", lg.String("file", used))
	}
	ctx = lg.Attach(ctx, log)

	ap, err := newApp(ctx, cfg, req.Verbosity, log)
	if err != nil {
		return err
	}
	defer ap.Close(context.WithoutCancel(ctx))
	return c.dispatch(ctx, ap, req)
}

func (c *cli) dispatch(ctx context.Context, ap *app, req request) error {
	p := &printer{out: c.out, verbosity: req.Verbosity}

	switch req.Action {
	case actionDetect:
		return c.detect(ctx, ap, req, p)
	case actionTapeInfo:
		return tapeInfo(ctx, ap, p)
	}

	cfg, err := resolve(ctx, ap.op, req)
	if err != nil {
		return err
	}

	switch req.Action {
	case actionShow:
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return err
		}
		p.println(strings.TrimRight(string(data), "\n"))
		return nil

	case actionList:
		res, err := ap.op.ListTools(ctx)
		if err != nil {
			return err
		}
		p.result("tools", res)
		return nil

	case actionWorkflows:
		reg, err := ap.op.Workflows()
		if err != nil {
			return err
		}
		if reg.Len() == 0 {
			p.println(dimStyle.Render(fmt.Sprintf("no workflows for %s", cfg.Service)))
			return nil
		}
		for _, name := range reg.Names() {
			w, _ := reg.Lookup(name)
			p.println(fmt.Sprintf("%-24s %s", name, w.Title))
		}
		return nil

	case actionDescribe:
		w, err := ap.op.Describe(req.Workflow)
		if err != nil {
			return err
		}
		p.println(strings.TrimRight(w.Usage(), "\n"))
		if req.Verbosity == operator.Verbose {
			p.println(boxStyle.Render(strings.Join(w.Commands, "\n")))
		}
		return nil

	case actionRun:
		res, err := invoke(ctx, ap, req)
		if err != nil {
			return err
		}
		p.result(req.Workflow, res)
		c.record(ctx, ap, req, res)
		if !res.Succeeded {
			return fmt.Errorf("workflow %s failed on %s with exit status %d", req.Workflow, res.Node, res.ExitCode)
		}
		return nil
	}
	return fmt.Errorf("unknown action %q", req.Action)
}

// resolve looks the node up and fills device and mover from the request
// where the registry left them unset.
func resolve(ctx context.Context, op *operator.Operator, req request) (settings.Configuration, error) {
	cfg, err := op.Resolve(ctx, req.Node, req.Service)
	if err != nil {
		return cfg, err
	}
	if cfg.Service == "" {
		cfg.Service = req.Service
	}
	if cfg.Device == "" {
		cfg.Device = req.Device
	}
	if cfg.Mover == "" {
		cfg.Mover = req.Mover
	}
	op.Accept(cfg)
	return cfg, nil
}

// invoke runs the workflow, retrying on ExecutionError only when
// retry.attempts is set. Every other error is final.
func invoke(ctx context.Context, ap *app, req request) (executor.Result, error) {
	rc := ap.cfg.Retry
	if rc.Attempts <= 0 {
		return ap.op.Invoke(ctx, req.Workflow, req.Params, req.Identity)
	}

	b := backoff.NewExponentialBackOff()
	if rc.InitialInterval > 0 {
		b.InitialInterval = rc.InitialInterval
	}
	if rc.MaxInterval > 0 {
		b.MaxInterval = rc.MaxInterval
	}
	b.Reset()

	call := func() (executor.Result, error) {
		res, err := ap.op.Invoke(ctx, req.Workflow, req.Params, req.Identity)
		if err != nil && !errors.Is(err, errs.ErrExecution) {
			return res, backoff.Permanent(err)
		}
		return res, err
	}
	notify := func(err error, next time.Duration) {
		ap.log.Warn("workflow produced no output, retrying", lg.String("workflow", req.Workflow), lg.Err(err), lg.Duration("next", next))
	}
	return backoff.RetryNotifyWithData(call, backoff.WithContext(backoff.WithMaxRetries(b, uint64(rc.Attempts)), ctx), notify)
}

// record stores the result in the configured sinks. A recording failure
// is reported on stderr and does not change the outcome of the run.
func (c *cli) record(ctx context.Context, ap *app, req request, res executor.Result) {
	sinks, err := ap.recorders(ctx)
	if err == nil && len(sinks) == 0 {
		return
	}
	if err == nil {
		err = sinks.Record(ctx, recorder.NewRecord(req.Workflow, req.Identity, ap.op.Configuration(), res))
	}
	if err != nil {
		ap.log.Warn("recording failed", lg.String("workflow", req.Workflow), lg.Err(err))
		fmt.Fprintf(c.errOut, "storops: recording failed: %s\n", err)
	}
}

func (c *cli) detect(ctx context.Context, ap *app, req request, p *printer) error {
	target := settings.Configuration{Node: req.Node}
	if !req.Remote && !target.IsRemote() {
		cfg, err := ap.op.DetectService(ctx, req.Node)
		if err != nil {
			return err
		}
		p.configuration(cfg)
		return saveDetected(ap, req, cfg)
	}

	det, err := ap.op.DetectRemoteService(ctx, req.Node, c.selector(req))
	if err != nil {
		return err
	}
	if len(det.Candidates) == 0 {
		ap.log.Info("no mover candidates reported", lg.String("node", det.Configuration.Node))
	}
	p.configuration(det.Configuration)
	return saveDetected(ap, req, det.Configuration)
}

// saveDetected persists cfg under its node when --save is given. Only the
// file registry is writable.
func saveDetected(ap *app, req request, cfg settings.Configuration) error {
	if !req.Save {
		return nil
	}
	store, ok := ap.store.(*settings.FileStore)
	if !ok {
		return &errs.ConfigurationError{Reason: "--save needs the file registry backend"}
	}
	if err := store.Put(cfg.Node, settings.Entry{Service: cfg.Service, Device: cfg.Device, Mover: cfg.Mover}); err != nil {
		if errors.Is(err, errs.ErrRegistryUnavailable) {
			return err
		}
		return &errs.RegistryError{Source: store.Path, Err: err}
	}
	ap.log.Info("configuration saved", lg.String("node", cfg.Node), lg.String("registry", store.Path))
	return nil
}

func (c *cli) selector(req request) operator.Selector {
	switch {
	case req.MoverIndex != noMoverIndex:
		return fixedSelector(req.MoverIndex)
	case req.Verbosity == operator.Quiet:
		return fixedSelector(-1)
	}
	return teaSelector{in: c.in, out: c.errOut}
}

func tapeInfo(ctx context.Context, ap *app, p *printer) error {
	local, adapters, err := ap.adapters()
	if err != nil {
		return err
	}
	drives, err := devices.Collect(ctx, local, adapters, ap.log)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(drives, "", "    ")
	if err != nil {
		return err
	}
	p.println(string(data))
	return nil
}

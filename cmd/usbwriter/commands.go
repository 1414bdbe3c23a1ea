package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/yakeru/usbwriter"
	"github.com/yakeru/usbwriter/database"
	"github.com/yakeru/usbwriter/mirror"
	"github.com/yakeru/usbwriter/mockbackend"
	"github.com/yakeru/usbwriter/screens"
	"github.com/yakeru/usbwriter/session"
	"github.com/yakeru/usbwriter/status"
	"github.com/yakeru/usbwriter/tui"
	"github.com/yakeru/usbwriter/wizard"
)

func (c *cli) runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the interactive wizard",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runWizard(cmd.Context())
		},
	}
}

func (c *cli) runWizard(ctx context.Context) error {
	if !isTerminal() {
		return errors.New("the wizard needs a terminal; use \"usbwriter write\" from scripts")
	}
	s, err := c.newStack(stackOptions{history: true, prefs: true, serve: true})
	if err != nil {
		return err
	}
	defer s.Close()

	if err := waitHealthy(ctx, s.Backend, 5*time.Second, log); err != nil {
		log.WithError(err).Warn("Backend is not answering; lists stay empty until it does")
	}

	var anim screens.Animator = screens.Instant{}
	var timed *screens.Timed
	if c.cfg.Animate {
		timed = screens.NewTimed(nil, screens.DefaultExitDuration, screens.DefaultEnterDuration)
		anim = timed
	}
	ctrl := screens.New(screens.Config{Animator: anim, Logger: log, Metrics: s.Metrics})
	defer ctrl.Watch(s.Sessions)()

	wiz := wizard.New(s.Sessions, ctrl, s.Catalog, log)

	s.Catalog.RefreshNow(ctx)
	if s.Prefs != nil {
		if sel, ok, err := s.Prefs.LastSelection(); err != nil {
			log.WithError(err).Warn("Failed to read remembered selection")
		} else if ok && wiz.RestoreSelection(sel.ISOName, sel.DeviceID) {
			log.WithFields(logrus.Fields{"iso": sel.ISOName, "device": sel.DeviceID}).Info("Restored last selection")
		}
	}
	s.Catalog.Start()

	deps := tui.Deps{
		Wizard:     wiz,
		Screens:    ctrl,
		Lists:      s.Catalog,
		Styles:     tui.DefaultStyles(),
		BackendURL: s.Backend.BaseURL(),
	}
	if timed != nil {
		deps.Animator = timed
	}
	return tui.Run(ctx, deps)
}

func (c *cli) writeCmd() *cobra.Command {
	var (
		isoName  string
		deviceID string
		yes      bool
		quiet    bool
		noColor  bool
	)
	cmd := &cobra.Command{
		Use:   "write",
		Short: "Write an ISO to a device and wait for the result",
		Long: `Write an ISO image to a USB device through the backend.

All data on the device is destroyed. --yes is required to confirm.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("writing erases %s; pass --yes to confirm", deviceID)
			}
			s, err := c.newStack(stackOptions{history: true, prefs: true, serve: true})
			if err != nil {
				return err
			}
			defer s.Close()

			progress := tui.NewCLIProgress(quiet, noColor || !isTerminal(), isTerminal())
			progress.SetWriter(c.out)
			return writeAndWait(cmd.Context(), s, isoName, deviceID, progress)
		},
	}
	cmd.Flags().StringVar(&isoName, "iso", "", "ISO file name as listed by \"usbwriter isos\"")
	cmd.Flags().StringVar(&deviceID, "device", "", "device id as listed by \"usbwriter devices\"")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm that the device will be erased")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "print nothing but errors")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "disable colored output")
	cmd.MarkFlagRequired("iso")
	cmd.MarkFlagRequired("device")
	return cmd
}

// writeAndWait selects isoName and deviceID, starts the write and blocks
// until the session ends. The backend status is cleared afterwards.
func writeAndWait(ctx context.Context, s *Stack, isoName, deviceID string, progress *tui.CLIProgress) error {
	s.Catalog.RefreshNow(ctx)
	iso, ok := s.Catalog.FindISO(isoName)
	if !ok {
		return fmt.Errorf("ISO %q not found on the backend", isoName)
	}
	dev, ok := s.Catalog.FindDevice(deviceID)
	if !ok {
		return fmt.Errorf("device %q not found on the backend", deviceID)
	}

	done := make(chan session.Event, 1)
	cancel := s.Sessions.Subscribe(func(e session.Event) {
		progress.HandleEvent(e)
		if e.Kind == session.Completed || e.Kind == session.Error {
			select {
			case done <- e:
			default:
			}
		}
	})
	defer cancel()

	s.Sessions.SelectISO(&iso)
	s.Sessions.SelectDevice(&dev)
	id, err := s.Sessions.StartWrite()
	if err != nil {
		return err
	}
	log.WithField("session_id", id).Debug("Write requested")

	select {
	case <-ctx.Done():
		return ctx.Err()
	case e := <-done:
		s.Sessions.ResetState()
		if e.Kind == session.Error {
			if e.Err != nil {
				return e.Err
			}
			return fmt.Errorf("%w: %s", usbwriter.ErrWriteFailed, e.Message)
		}
		return nil
	}
}

func (c *cli) isosCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "isos",
		Short: "List ISO images available on the backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			isos, err := c.newBackend(nil).ListISOs(cmd.Context())
			if err != nil {
				return err
			}
			if len(isos) == 0 {
				fmt.Fprintln(c.out, "No ISO images found.")
				return nil
			}
			rows := make([][]string, 0, len(isos))
			for _, iso := range isos {
				size := iso.SizeFormatted
				if size == "" {
					size = tui.FormatBytes(iso.Size)
				}
				rows = append(rows, []string{iso.Name, size, iso.Path})
			}
			fmt.Fprintln(c.out, tui.RenderTable([]string{"NAME", "SIZE", "PATH"}, rows, tui.PlainStyles()))
			return nil
		},
	}
}

func (c *cli) devicesCmd() *cobra.Command {
	var rescan bool
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List removable devices the backend can write to",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b := c.newBackend(nil)
			list := b.ListDevices
			if rescan {
				list = b.RescanDevices
			}
			devices, err := list(cmd.Context())
			if err != nil {
				if usbwriter.IsNoUpdate(err) {
					return fmt.Errorf("backend is busy or locked; try again after the write finishes: %w", err)
				}
				return err
			}
			if len(devices) == 0 {
				fmt.Fprintln(c.out, "No removable devices found.")
				return nil
			}
			rows := make([][]string, 0, len(devices))
			for _, d := range devices {
				rows = append(rows, []string{d.ID, d.Name, d.Size, d.Vendor, d.Mountpoint})
			}
			fmt.Fprintln(c.out, tui.RenderTable([]string{"ID", "NAME", "SIZE", "VENDOR", "MOUNT"}, rows, tui.PlainStyles()))
			return nil
		},
	}
	cmd.Flags().BoolVar(&rescan, "rescan", false, "ask the backend to re-enumerate devices first")
	return cmd
}

func (c *cli) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show backend reachability and the current write status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b := c.newBackend(nil)
			fmt.Fprintf(c.out, "Backend:  %s\n", b.BaseURL())
			if err := b.Health(cmd.Context()); err != nil {
				fmt.Fprintf(c.out, "Health:   unreachable (%s)\n", usbwriter.ErrorMessage(err))
				return err
			}
			fmt.Fprintln(c.out, "Health:   ok")

			st, err := b.WriteStatus(cmd.Context())
			if err != nil {
				return err
			}
			translator := status.New()
			if c.cfg.MessagesFile != "" {
				if translator, err = status.Load(c.cfg.MessagesFile); err != nil {
					return err
				}
			}
			sample := st.Sample()
			cat, msg := translator.Translate(sample.Status)
			fmt.Fprintf(c.out, "Status:   %s (%d%%) [%s]\n", msg, sample.Progress, cat)
			return nil
		},
	}
}

func (c *cli) resetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Clear the backend's last write status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.newBackend(nil).ResetStatus(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(c.out, "Backend status cleared.")
			return nil
		},
	}
}

func (c *cli) historyCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List finished write sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := database.New(database.Config{Path: c.cfg.HistoryDB})
			if err != nil {
				return err
			}
			defer db.Close()

			records, err := db.ListSessions(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Fprintln(c.out, "No write sessions recorded.")
				return nil
			}
			styles := tui.PlainStyles()
			rows := make([][]string, 0, len(records))
			for _, r := range records {
				outcome := r.Outcome
				if r.Forced {
					outcome += " (stall)"
				}
				rows = append(rows, []string{
					humanize.Time(r.FinishedAt),
					styles.OutcomeIcon(r.Outcome) + " " + outcome,
					r.ISOName,
					r.DeviceID,
					strconv.Itoa(r.FinalProgress) + "%",
					tui.FormatDuration(r.FinishedAt.Sub(r.StartedAt)),
				})
			}
			fmt.Fprintln(c.out, tui.RenderTable([]string{"FINISHED", "OUTCOME", "ISO", "DEVICE", "PROGRESS", "DURATION"}, rows, styles))

			counts, err := db.CountSessions(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "\n%d completed, %d failed, %d reset\n",
				counts[usbwriter.OutcomeCompleted], counts[usbwriter.OutcomeFailed], counts[usbwriter.OutcomeReset])
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of sessions to show")
	return cmd
}

func (c *cli) mirrorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mirror",
		Short: "Download ISO images from an S3 bucket into the backend's ISO directory",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List ISO objects in the mirror bucket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := c.newMirror(cmd.Context())
			if err != nil {
				return err
			}
			objects, err := m.ListISOs(cmd.Context())
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(objects))
			for _, o := range objects {
				rows = append(rows, []string{o.Key, humanize.IBytes(uint64(o.Size)), humanize.Time(o.LastModified)})
			}
			fmt.Fprintln(c.out, tui.RenderTable([]string{"KEY", "SIZE", "MODIFIED"}, rows, tui.PlainStyles()))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "fetch <key>",
		Short: "Download one ISO into mirror.dest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if c.cfg.Mirror.Dest == "" {
				return errors.New("mirror.dest is not configured")
			}
			m, err := c.newMirror(cmd.Context())
			if err != nil {
				return err
			}
			db, err := database.New(database.Config{Path: c.cfg.HistoryDB})
			if err != nil {
				log.WithError(err).Warn("Download ledger disabled")
			} else {
				defer db.Close()
				m.SetLedger(db)
			}

			res, err := m.Fetch(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if res.Skipped {
				fmt.Fprintf(c.out, "Already present: %s\n", res.LocalPath)
				return nil
			}
			fmt.Fprintf(c.out, "Fetched %s (%s, sha256 %s)\n", res.LocalPath, humanize.IBytes(uint64(res.SizeBytes)), res.Checksum)
			return nil
		},
	})
	return cmd
}

func (c *cli) newMirror(ctx context.Context) (*mirror.Mirror, error) {
	if c.cfg.Mirror.Bucket == "" {
		return nil, errors.New("mirror.bucket is not configured")
	}
	return mirror.New(ctx, c.cfg.Mirror, log)
}

func (c *cli) mockBackendCmd() *cobra.Command {
	var (
		addr string
		step time.Duration
		lock bool
	)
	cmd := &cobra.Command{
		Use:   "mock-backend",
		Short: "Serve a simulated writer backend for demos and testing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			srv := mockbackend.New(mockbackend.Config{
				ISOs:            demoISOs(),
				Devices:         demoDevices(),
				Logger:          log,
				LockDuringWrite: lock,
			})
			httpSrv := &http.Server{Addr: addr, Handler: srv.Handler(), ReadHeaderTimeout: 5 * time.Second}

			go srv.Run(ctx, step)
			go func() {
				<-ctx.Done()
				shutdown, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				httpSrv.Shutdown(shutdown)
			}()

			log.WithField("addr", addr).Info("Mock backend listening")
			fmt.Fprintf(c.out, "Mock backend on http://%s/api\n", displayAddr(addr))
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":5000", "listen address")
	cmd.Flags().DurationVar(&step, "step", 500*time.Millisecond, "time between simulated status steps")
	cmd.Flags().BoolVar(&lock, "lock", false, "answer 423 on device listing while writing")
	return cmd
}

func displayAddr(addr string) string {
	if len(addr) > 0 && addr[0] == ':' {
		return "localhost" + addr
	}
	return addr
}

func demoISOs() []usbwriter.ISOFile {
	return []usbwriter.ISOFile{
		{Name: "ubuntu-24.04-desktop-amd64.iso", Size: 6_114_656_256, SizeFormatted: "5.7 GB", Path: "/srv/isos/ubuntu-24.04-desktop-amd64.iso"},
		{Name: "debian-12.5.0-amd64-netinst.iso", Size: 659_554_304, SizeFormatted: "629.0 MB", Path: "/srv/isos/debian-12.5.0-amd64-netinst.iso"},
	}
}

func demoDevices() []usbwriter.USBDevice {
	return []usbwriter.USBDevice{
		{ID: "sdb", Name: "SanDisk Ultra", Size: "28.7 GB", Vendor: "SanDisk", Status: "ready"},
		{ID: "sdc", Name: "DataTraveler 3.0", Size: "14.4 GB", Vendor: "Kingston", Status: "ready", Mountpoint: "/media/usb"},
	}
}

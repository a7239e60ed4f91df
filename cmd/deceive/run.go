/*
Copyright © 2020 NAME HERE <EMAIL ADDRESS>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/rc-deceive/deceive/pkg/certs"
	"github.com/rc-deceive/deceive/pkg/chatintercept"
	deceiveconfig "github.com/rc-deceive/deceive/pkg/config"
	"github.com/rc-deceive/deceive/pkg/configintercept"
	"github.com/rc-deceive/deceive/pkg/launcher"
	"github.com/rc-deceive/deceive/pkg/presence"
	"github.com/rc-deceive/deceive/pkg/supervisor"
	"github.com/rc-deceive/deceive/pkg/ui"
)

// RunOptions are the resolved CLI inputs for the launch command (spec.md
// §6 "CLI surface").
type RunOptions struct {
	Game      string
	Status    string
	Tray      bool
	Patchline string
}

// Run wires C1–C6 together and blocks until shutdown, matching the control
// flow in spec.md §2: the supervisor creates C3 (obtains its port), then C2
// (given C3's port), then asks C6 to launch the client pointed at C2.
func Run(opts RunOptions) (err error) {
	if err := initLogger(viper.GetBool("debug")); err != nil {
		return fmt.Errorf("error initializing global logger: %w", err)
	}

	mode, err := presence.ParseMode(opts.Status)
	if err != nil {
		return fmt.Errorf("error validating status: %w", err)
	}

	dir, err := deceiveconfig.Dir()
	if err != nil {
		return fmt.Errorf("error resolving config dir: %w", err)
	}
	persisted, err := deceiveconfig.Load(filepath.Join(dir, "config.yaml"))
	if err != nil {
		return fmt.Errorf("error loading persisted config: %w", err)
	}
	if err := deceiveconfig.Validate(&persisted); err != nil {
		return fmt.Errorf("error validating persisted config: %w", err)
	}

	pair, err := certs.LoadOrGenerate(filepath.Join(dir, "cert.pem"), filepath.Join(dir, "key.pem"))
	if err != nil {
		return fmt.Errorf("error provisioning certificate: %w", err)
	}
	cert, err := pair.TLSCertificate()
	if err != nil {
		return fmt.Errorf("error loading certificate: %w", err)
	}

	var notifier ui.Notifier = ui.LoggingNotifier{}
	sup := supervisor.New(mode, persisted.ConnectToMuc, notifier)

	chat := chatintercept.New(sup)
	chatPort, err := chat.Start(cert)
	if err != nil {
		return fmt.Errorf("error starting chat interceptor: %w", err)
	}
	defer chat.Stop() //nolint:errcheck

	cfgIntercept := configintercept.New(chatPort)
	cfgPort, err := cfgIntercept.Start()
	if err != nil {
		return fmt.Errorf("error starting config interceptor: %w", err)
	}
	defer cfgIntercept.Stop() //nolint:errcheck

	go func() {
		for t := range cfgIntercept.ChatTargetSeen {
			sup.SetChatTarget(supervisor.ChatTarget{Host: t.Host, Port: t.Port})
		}
	}()

	l := launcher.New(launcher.DefaultFinder{})
	launchOpts := launcher.Options{
		ConfigURL: fmt.Sprintf("http://127.0.0.1:%d", cfgPort),
		Product:   productFor(opts.Game),
		Patchline: opts.Patchline,
	}
	if err := l.Launch(launchOpts); err != nil {
		return fmt.Errorf("error launching game client: %w", err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer func() { signal.Stop(sig); close(sig) }()

	sup.OnIdleShutdown(func() { os.Exit(0) })

	// Run the config and chat interceptors' fatal-error watchers concurrently
	// via an errgroup so the first startup-fatal failure from either one
	// unwinds Run (spec.md §7 "Startup-fatal"): a fatal watcher stops the
	// supervisor, which releases the other goroutines via StopSignal.
	var g errgroup.Group
	g.Go(func() error {
		select {
		case err := <-cfgIntercept.Fatal():
			sup.Stop()
			return err
		case <-sup.StopSignal():
			return nil
		}
	})
	g.Go(func() error {
		select {
		case err := <-chat.Fatal():
			sup.Stop()
			return err
		case <-sup.StopSignal():
			return nil
		}
	})
	g.Go(func() error {
		select {
		case s, ok := <-sig:
			if !ok {
				return nil
			}
			zap.S().Infof("received %s signal", s)
			sup.SendFromFake("Deceive is shutting down, see you next time!")
			sup.Stop()
			return nil
		case <-sup.StopSignal():
			return nil
		}
	})

	return g.Wait()
}

func productFor(game string) launcher.Product {
	switch game {
	case "lol":
		return launcher.ProductLeagueOfLegends
	case "valorant":
		return launcher.ProductValorant
	case "lor":
		return launcher.ProductBacon
	case "lion":
		return launcher.ProductLion
	default:
		return launcher.ProductRiotClient
	}
}

func initLogger(debug bool) (err error) {
	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}

	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	l, err := cfg.Build()
	if err != nil {
		return err
	}
	zap.ReplaceGlobals(l)
	return nil
}

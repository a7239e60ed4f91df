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

	"github.com/spf13/cobra"
)

var (
	flagStatus    string
	flagTray      bool
	flagPatchline string
)

// productOf maps the launch command's positional game argument to the
// launcher.Product code it corresponds to (spec.md §6 "CLI surface").
var productOf = map[string]string{
	"lol":         "league_of_legends",
	"valorant":    "valorant",
	"lor":         "bacon",
	"lion":        "lion",
	"riot-client": "",
	"prompt":      "",
}

var launchCmd = &cobra.Command{
	Use:       "launch [game]",
	Short:     "Relaunch the Riot game client with its presence hidden from chat",
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{"lol", "valorant", "lor", "lion", "riot-client", "prompt"},
	RunE: func(cmd *cobra.Command, args []string) error {
		game := "prompt"
		if len(args) == 1 {
			game = args[0]
		}
		if _, ok := productOf[game]; !ok {
			return fmt.Errorf("unknown game %q (want one of lol|valorant|lor|lion|riot-client|prompt)", game)
		}
		return Run(RunOptions{
			Game:      game,
			Status:    flagStatus,
			Tray:      flagTray,
			Patchline: flagPatchline,
		})
	},
}

func init() {
	launchCmd.Flags().StringVar(&flagStatus, "status", "offline", "initial presence status (offline|online|mobile)")
	launchCmd.Flags().BoolVar(&flagTray, "tray", true, "show a tray icon")
	launchCmd.Flags().StringVar(&flagPatchline, "patchline", "live", "patchline passed to the game client")
	rootCmd.AddCommand(launchCmd)
}

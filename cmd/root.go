////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

// Package cmd initializes the CLI and config parsers as well as the logger.
package cmd

import (
	"fmt"
	"io/ioutil"
	"log"
	"os"
	"strings"

	"github.com/pkg/profile"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	jww "github.com/spf13/jwalterweatherman"
	"github.com/spf13/viper"
)

// profiler is the running CPU profile, if --profile-cpu was given.
var profiler interface{ Stop() }

// Execute adds all child commands to the root command and sets flags
// appropriately.  This is called by main.main(). It only needs to
// happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "nesmo",
	Short: "Command line client for NESMO CONNECT conversations",
	Args:  cobra.NoArgs,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		initLog(viper.GetUint(logLevelFlag), viper.GetString(logFlag))

		if profileOut := viper.GetString(profileCpuFlag); profileOut != "" {
			profiler = profile.Start(profile.CPUProfile,
				profile.ProfilePath(profileOut), profile.NoShutdownHook)
		}
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if profiler != nil {
			profiler.Stop()
		}
	},
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
	},
}

func initLog(threshold uint, logPath string) {
	if logPath != "-" && logPath != "" {
		// Disable stdout output
		jww.SetStdoutOutput(ioutil.Discard)
		// Use log file
		logOutput, err := os.OpenFile(logPath,
			os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			panic(err.Error())
		}
		jww.SetLogOutput(logOutput)
	}

	if threshold > 1 {
		jww.INFO.Printf("log level set to: TRACE")
		jww.SetStdoutThreshold(jww.LevelTrace)
		jww.SetLogThreshold(jww.LevelTrace)
		jww.SetFlags(log.LstdFlags | log.Lmicroseconds)
	} else if threshold == 1 {
		jww.INFO.Printf("log level set to: DEBUG")
		jww.SetStdoutThreshold(jww.LevelDebug)
		jww.SetLogThreshold(jww.LevelDebug)
		jww.SetFlags(log.LstdFlags | log.Lmicroseconds)
	} else {
		jww.INFO.Printf("log level set to: INFO")
		jww.SetStdoutThreshold(jww.LevelInfo)
		jww.SetLogThreshold(jww.LevelInfo)
	}
}

// initConfig reads the config file, if any, and lets NESMO_* environment
// variables override it.
func initConfig() {
	viper.SetEnvPrefix("NESMO")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	configPath := viper.GetString(configFlag)
	if configPath == "" {
		return
	}
	viper.SetConfigFile(configPath)
	if err := viper.ReadInConfig(); err != nil {
		jww.FATAL.Panicf("Failed to read config %s: %+v", configPath, err)
	}
}

func init() {
	// NOTE: The point of init() is to be declarative.
	// There is one init in each sub command. Do not put variable declarations
	// here, and ensure all the Flags are of the *P variety, unless there's a
	// very good reason not to have them as local params to sub command."
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().UintP(logLevelFlag, "v", 0,
		"Verbose mode for debugging")
	bindFlagHelper(logLevelFlag, rootCmd)

	rootCmd.PersistentFlags().StringP(logFlag, "l", "-",
		"Path to the log output path (- is stdout)")
	bindFlagHelper(logFlag, rootCmd)

	rootCmd.PersistentFlags().StringP(configFlag, "c", "",
		"Path to a config file (any format viper reads)")
	bindFlagHelper(configFlag, rootCmd)

	rootCmd.PersistentFlags().StringP(dataDirFlag, "d", "nesmo-data",
		"Directory holding the local stores")
	bindFlagHelper(dataDirFlag, rootCmd)

	rootCmd.PersistentFlags().StringP(passwordFlag, "p", "",
		"Password to the local key-value store")
	bindFlagHelper(passwordFlag, rootCmd)

	rootCmd.PersistentFlags().StringP(userFlag, "u", "",
		"User ID of the signed-in user")
	bindFlagHelper(userFlag, rootCmd)

	rootCmd.PersistentFlags().String(nameFlag, "",
		"Display name of the signed-in user")
	bindFlagHelper(nameFlag, rootCmd)

	rootCmd.PersistentFlags().String(secretFlag, "",
		"Shared secret for message bodies (or NESMO_SECRET)")
	bindFlagHelper(secretFlag, rootCmd)

	rootCmd.PersistentFlags().String(baseURLFlag, "",
		"Base URL of attachment links")
	bindFlagHelper(baseURLFlag, rootCmd)

	rootCmd.PersistentFlags().String(chatParamsFlag, "",
		"JSON overriding the conversation parameters")
	bindFlagHelper(chatParamsFlag, rootCmd)

	rootCmd.PersistentFlags().String(filesParamsFlag, "",
		"JSON overriding the attachment store parameters")
	bindFlagHelper(filesParamsFlag, rootCmd)

	rootCmd.PersistentFlags().String(profileCpuFlag, "",
		"Enable cpu profiling and write the profile to this directory")
	bindFlagHelper(profileCpuFlag, rootCmd)
}

// bindFlagHelper binds the key to a pflag.Flag used by Cobra and prints an
// error if one occurs.
func bindFlagHelper(key string, command *cobra.Command) {
	err := viper.BindPFlag(key, command.PersistentFlags().Lookup(key))
	if err != nil {
		jww.ERROR.Printf("viper.BindPFlag failed for %q: %+v", key, err)
	}
}

// bindLocalFlags binds the local flags of the command being run. Subcommands
// share flag names, so this runs in PreRun rather than init, where the last
// registered subcommand would own each key.
func bindLocalFlags(command *cobra.Command, _ []string) {
	command.LocalNonPersistentFlags().VisitAll(func(f *pflag.Flag) {
		if err := viper.BindPFlag(f.Name, f); err != nil {
			jww.ERROR.Printf("viper.BindPFlag failed for %q: %+v", f.Name, err)
		}
	})
}

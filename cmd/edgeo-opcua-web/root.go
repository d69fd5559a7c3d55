// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "edgeo-opcua-web",
	Short: "OPC UA client over a WebSocket relay",
	Long: `A command line client that reaches OPC UA servers through a
WebSocket relay speaking the JSON request/reply envelope.

Settings come from flags, OPCUA_* environment variables or a config file.

Examples:
  edgeo-opcua-web browse -r ws://localhost:8080/ws -e opc.tcp://plc:4840
  edgeo-opcua-web read -r ws://relay/ws -e opc.tcp://plc:4840 -n "ns=2;s=Temperature"
  edgeo-opcua-web tree -e opc.tcp://plc:4840 -n i=85 --depth 3
  edgeo-opcua-web discovery -e opc.tcp://plc:4840`,
	SilenceUsage: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "Config file (yaml, json or toml)")
	pf.StringP("relay", "r", "ws://localhost:8080/ws", "WebSocket relay URL")
	pf.StringP("endpoint", "e", "opc.tcp://localhost:4840", "OPC UA server endpoint URL")
	pf.IntP("timeout", "t", 5000, "Operation timeout in milliseconds")
	pf.BoolP("verbose", "v", false, "Enable verbose output")
	pf.StringP("security-policy", "s", "None", "Security policy (None, Basic128Rsa15, Basic256, Basic256Sha256, Aes128_Sha256_RsaOaep, Aes256_Sha256_RsaPss)")
	pf.StringP("security-mode", "m", "None", "Security mode (None, Sign, SignAndEncrypt)")
	pf.String("auth", "anonymous", "User identity: anonymous, username or certificate")
	pf.StringP("username", "u", "", "User name for --auth username")
	pf.StringP("password", "p", "", "Password for --auth username")
	pf.String("user-cert", "", "User certificate file for --auth certificate (PEM or DER)")
	pf.String("user-key", "", "User private key file for --auth certificate (PEM or DER)")
	pf.String("metrics-addr", "", "Serve Prometheus metrics on this address while the command runs")
	pf.StringP("output", "o", "text", "Output format: text or json")

	for _, name := range []string{
		"relay", "endpoint", "timeout", "verbose", "security-policy", "security-mode",
		"auth", "username", "password", "user-cert", "user-key", "metrics-addr", "output",
	} {
		viper.BindPFlag(name, pf.Lookup(name))
	}

	rootCmd.AddCommand(browseCmd)
	rootCmd.AddCommand(treeCmd)
	rootCmd.AddCommand(readCmd)
	rootCmd.AddCommand(discoveryCmd)
	rootCmd.AddCommand(versionCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err != nil {
			fmt.Fprintf(os.Stderr, "Error reading config %s: %v\n", cfgFile, err)
			os.Exit(1)
		}
	}
	viper.SetEnvPrefix("OPCUA")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

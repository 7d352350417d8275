package cmd

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ftpmount/ftpmount/config"
	"github.com/ftpmount/ftpmount/ftpc"
)

// connection flags shared by commands that talk to a server
var (
	flagHost        string
	flagPort        int
	flagUser        string
	flagPass        string
	flagTLS         bool
	flagExplicitTLS bool
	flagSkipVerify  bool
)

func addConnectionFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&flagHost, "host", "", "FTP host to connect to")
	cmd.Flags().IntVar(&flagPort, "port", 0, "FTP port number (default 21)")
	cmd.Flags().StringVar(&flagUser, "user", "", "FTP username (default anonymous)")
	cmd.Flags().StringVar(&flagPass, "pass", "", "FTP password")
	cmd.Flags().BoolVar(&flagTLS, "tls", false, "Use implicit FTPS (FTP over TLS)")
	cmd.Flags().BoolVar(&flagExplicitTLS, "explicit-tls", false, "Use explicit FTPS (AUTH TLS)")
	cmd.Flags().BoolVar(&flagSkipVerify, "no-check-certificate", false, "Do not verify the TLS certificate of the server")
}

// resolveConnection turns the first mount argument into a
// ConnectionInfo: a saved connection name, an ftp:// or ftps:// URL,
// or a bare host combined with the connection flags.
func resolveConnection(arg string) (*ftpc.ConnectionInfo, error) {
	store, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if ci, err := store.Get(arg); err == nil {
		applyConnectionFlags(ci)
		return ci, nil
	}
	if u, err := url.Parse(arg); err == nil && (u.Scheme == "ftp" || u.Scheme == "ftps") {
		ci := &ftpc.ConnectionInfo{
			Host: u.Hostname(),
			TLS:  u.Scheme == "ftps",
		}
		if p := u.Port(); p != "" {
			if ci.Port, err = strconv.Atoi(p); err != nil {
				return nil, fmt.Errorf("bad port in %q: %w", arg, err)
			}
		}
		if u.User != nil {
			ci.User = u.User.Username()
			if pass, ok := u.User.Password(); ok {
				ci.Pass = pass
			}
		}
		applyConnectionFlags(ci)
		return ci, nil
	}
	if arg == "" {
		return nil, fmt.Errorf("no connection given")
	}
	ci := &ftpc.ConnectionInfo{Host: arg}
	applyConnectionFlags(ci)
	return ci, nil
}

// applyConnectionFlags lets command line flags override whatever the
// record or URL said
func applyConnectionFlags(ci *ftpc.ConnectionInfo) {
	if flagHost != "" {
		ci.Host = flagHost
	}
	if flagPort != 0 {
		ci.Port = flagPort
	}
	if flagUser != "" {
		ci.User = flagUser
	}
	if flagPass != "" {
		ci.Pass = flagPass
	}
	if flagTLS {
		ci.TLS = true
	}
	if flagExplicitTLS {
		ci.ExplicitTLS = true
	}
	if flagSkipVerify {
		ci.SkipVerifyTLSCert = true
	}
}

// oidc-login performs an RFC 8628 device-flow login against a configured
// provider and prints the resulting access token. The verification URI is
// rendered as a terminal QR code for phone hand-off.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	qrcode "github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	oidc "github.com/authrelay/oidc"
	"github.com/authrelay/oidc/config"
)

type loginOptions struct {
	configFile   string
	discoveryURL string
	clientID     string
	clientSecret string
	scopes       []string
	timeout      time.Duration
	showQR       bool
	jsonOutput   bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	o := &loginOptions{}
	cmd := &cobra.Command{
		Use:          "oidc-login",
		Short:        "Log in to an OpenID Connect provider using the device flow",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd.Context())
		},
	}
	o.bind(cmd.Flags())
	return cmd
}

func (o *loginOptions) bind(fs *pflag.FlagSet) {
	fs.StringVarP(&o.configFile, "config", "c", "", "path to a client config file")
	fs.StringVar(&o.discoveryURL, "discovery-url", "", "provider discovery URL")
	fs.StringVar(&o.clientID, "client-id", "", "OAuth client ID")
	fs.StringVar(&o.clientSecret, "client-secret", "", "OAuth client secret")
	fs.StringSliceVar(&o.scopes, "scopes", []string{"openid", "profile"}, "requested scopes")
	fs.DurationVar(&o.timeout, "timeout", 5*time.Minute, "how long to wait for user approval")
	fs.BoolVar(&o.showQR, "qr", true, "render the verification URI as a QR code")
	fs.BoolVar(&o.jsonOutput, "json", false, "print the full token response as JSON")
}

func (o *loginOptions) buildConfig() (*config.ClientConfig, error) {
	if o.configFile != "" {
		cfg, err := config.Load(o.configFile)
		if err != nil {
			return nil, err
		}
		cfg.GrantType = config.GrantDeviceCode
		return cfg, nil
	}
	return &config.ClientConfig{
		ClientID:     o.clientID,
		ClientSecret: o.clientSecret,
		DiscoveryURL: o.discoveryURL,
		Scopes:       o.scopes,
		GrantType:    config.GrantDeviceCode,
	}, nil
}

func (o *loginOptions) run(ctx context.Context) error {
	cfg, err := o.buildConfig()
	if err != nil {
		return err
	}

	client, err := oidc.New(cfg)
	if err != nil {
		return err
	}

	da, err := client.Auth.StartDeviceAuthorization(ctx)
	if err != nil {
		return err
	}

	uri := da.VerificationURIComplete
	if uri == "" {
		uri = da.VerificationURI
	}
	fmt.Printf("To sign in, visit:\n\n  %s\n\nand enter the code: %s\n\n", da.VerificationURI, da.UserCode)
	if o.showQR && uri != "" {
		if qr, err := qrcode.New(uri, qrcode.Medium); err == nil {
			fmt.Println(qr.ToSmallString(false))
		}
	}

	resp, err := client.Auth.PollDeviceToken(ctx, da.DeviceCode, time.Duration(da.Interval)*time.Second, o.timeout)
	if err != nil {
		return err
	}

	if o.jsonOutput {
		out, err := json.MarshalIndent(resp, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}
	fmt.Println(resp.AccessToken)
	return nil
}

// oidc-rp-demo is a minimal relying party showing the library embedded in
// a web application: /login redirects to the provider, /callback completes
// the code exchange and starts a session, /logout tears it down.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	oidc "github.com/authrelay/oidc"
	"github.com/authrelay/oidc/config"
	"github.com/authrelay/oidc/transport"
)

func main() {
	configPath := flag.String("config", "client.yaml", "path to the client config file")
	listenAddr := flag.String("listen", ":8080", "listen address")
	flag.Parse()

	log := logrus.New()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if cfg.Session == nil {
		cfg.Session = &config.SessionConfig{Mode: config.SessionServer, UseSilentRenew: true}
	}

	client, err := oidc.New(cfg, oidc.WithLogger(log))
	if err != nil {
		log.Fatalf("failed to build client: %v", err)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/login", func(w http.ResponseWriter, req *http.Request) {
		authURL, err := client.Auth.GetAuthorizationURL(req.Context(), nil)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		http.Redirect(w, req, authURL.URL, http.StatusFound)
	})

	r.Get("/callback", func(w http.ResponseWriter, req *http.Request) {
		q := req.URL.Query()
		if errCode := q.Get("error"); errCode != "" {
			http.Error(w, fmt.Sprintf("provider error: %s (%s)", errCode, q.Get("error_description")), http.StatusBadGateway)
			return
		}
		if err := client.Auth.HandleRedirect(req.Context(), q.Get("code"), q.Get("state")); err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		if err := client.Session.Start(req.Context(), transport.NewHTTPContext(w, req)); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		http.Redirect(w, req, "/me", http.StatusFound)
	})

	r.Get("/me", func(w http.ResponseWriter, req *http.Request) {
		claims, err := client.Token.GetClaims(req.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		_ = (&transport.HTTPResponse{W: w}).WriteJSON(http.StatusOK, claims)
	})

	r.Get("/logout", func(w http.ResponseWriter, req *http.Request) {
		idToken := client.Token.GetTokens().IDToken
		if err := client.Session.Stop(req.Context()); err != nil {
			log.Warnf("session stop failed: %v", err)
		}
		logoutURL, err := client.Auth.GetLogoutURL(req.Context(), idToken, "")
		if err != nil {
			http.Redirect(w, req, "/", http.StatusFound)
			return
		}
		http.Redirect(w, req, logoutURL, http.StatusFound)
	})

	r.Handle("/metrics", promhttp.Handler())

	log.Infof("relying party listening on %s", *listenAddr)
	if err := http.ListenAndServe(*listenAddr, r); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

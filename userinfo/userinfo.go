// Package userinfo fetches the OIDC userinfo document with the client's
// current access token.
package userinfo

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/authrelay/oidc/apierrors"
	"github.com/authrelay/oidc/discovery"
	"github.com/authrelay/oidc/transport"
)

// MetadataSource yields provider metadata; discovery.Service implements it.
type MetadataSource interface {
	Discover(ctx context.Context, forceRefresh bool) (*discovery.Metadata, error)
}

// AccessTokenSource yields a currently valid access token; token.Service
// implements it.
type AccessTokenSource interface {
	GetAccessToken(ctx context.Context) (string, error)
}

// Info is the userinfo response document, keyed by claim name.
type Info map[string]any

// Subject returns the sub claim, or "".
func (i Info) Subject() string {
	s, _ := i["sub"].(string)
	return s
}

// Service fetches userinfo documents.
type Service struct {
	metadata MetadataSource
	tokens   AccessTokenSource
	doer     transport.Doer
	log      logrus.FieldLogger
}

// NewService creates a userinfo service.
func NewService(metadata MetadataSource, tokens AccessTokenSource, doer transport.Doer, log logrus.FieldLogger) *Service {
	return &Service{metadata: metadata, tokens: tokens, doer: doer, log: log}
}

// Fetch retrieves the userinfo document for the current access token.
// Fails with UserInfoUnavailable when the provider does not advertise a
// userinfo endpoint, and NoAccessToken when no token is available.
func (s *Service) Fetch(ctx context.Context) (Info, error) {
	md, err := s.metadata.Discover(ctx, false)
	if err != nil {
		return nil, err
	}
	if md.UserinfoEndpoint == "" {
		return nil, apierrors.ErrUserInfoUnavailable
	}

	access, err := s.tokens.GetAccessToken(ctx)
	if err != nil {
		return nil, err
	}
	if access == "" {
		return nil, apierrors.ErrNoAccessToken
	}

	var info Info
	if err := transport.GetJSON(ctx, s.doer, md.UserinfoEndpoint, access, &info); err != nil {
		return nil, apierrors.Wrap(apierrors.CodeUserInfoUnavailable, "userinfo request failed", err)
	}
	s.log.Debugf("userinfo: fetched document for subject %s", info.Subject())
	return info, nil
}

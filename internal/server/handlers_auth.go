package server

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"chatvault/internal/api"
	"chatvault/internal/auth"
)

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req api.LoginRequest
	if !s.decodeJSONReq(w, r, &req) {
		return
	}

	now := time.Now().UTC()
	limiterKey := loginAttemptKey(req.Username, r)
	if !s.loginLimiter.Allow(limiterKey, now) {
		s.writeErrorReq(w, r, http.StatusTooManyRequests, apiError{
			status:  http.StatusTooManyRequests,
			code:    "resource_exhausted",
			errCode: ErrCodeResourceExhausted,
			err:     fmt.Errorf("too many login attempts; retry later"),
		})
		return
	}

	if err := s.verifier.Verify(r.Context(), req.Username, req.Password); err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			s.loginLimiter.RegisterFailure(limiterKey, now)
			s.writeServiceError(w, r, unauthorized(fmt.Errorf("invalid credentials")))
			return
		}
		s.writeServiceError(w, r, classifyServiceError(err, ErrCodeNotFound))
		return
	}
	s.loginLimiter.Reset(limiterKey)

	s.writeJSON(w, http.StatusOK, api.LoginResponse{Success: true})
}

func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request) {
	var req api.NotifyRequest
	if !s.decodeJSONReq(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.FromUser) == "" {
		s.writeServiceError(w, r, badRequestCode(fmt.Errorf("from_user is required"), ErrCodeMissingRequired))
		return
	}

	recipients, err := s.notify.Notify(r.Context(), req.FromUser, req.Text)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.NotifyResponse{Sent: true, Recipients: recipients})
}

func loginAttemptKey(username string, r *http.Request) string {
	user := strings.ToLower(strings.TrimSpace(username))
	if user == "" {
		user = "<empty>"
	}
	ip := requestClientIP(r)
	if ip == "" {
		ip = "<unknown>"
	}
	return ip + "|" + user
}

func requestClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	remote := strings.TrimSpace(r.RemoteAddr)
	if remote == "" {
		return ""
	}
	host, _, err := net.SplitHostPort(remote)
	if err == nil {
		return strings.TrimSpace(host)
	}
	return remote
}

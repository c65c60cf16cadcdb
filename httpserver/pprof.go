package httpserver

import (
	"crypto/subtle"
	"net/http"
	"net/http/pprof"
)

// PprofConfig configures the pprof endpoints.
type PprofConfig struct {
	// Prefix defaults to "/debug/pprof".
	Prefix string

	// Username and Password enable HTTP basic auth when both are set.
	Username string
	Password string
}

// PprofHandler serves the runtime profiles under cfg.Prefix: the index
// (which links heap, goroutine, block, mutex, allocs, threadcreate), cmdline,
// profile, symbol and trace.
//
//	router.Handle("/debug/pprof/*", httpserver.PprofHandler(httpserver.PprofConfig{}))
func PprofHandler(cfg PprofConfig) http.Handler {
	if cfg.Prefix == "" {
		cfg.Prefix = "/debug/pprof"
	}

	mux := http.NewServeMux()
	mux.HandleFunc(cfg.Prefix+"/", pprof.Index)
	mux.HandleFunc(cfg.Prefix+"/cmdline", pprof.Cmdline)
	mux.HandleFunc(cfg.Prefix+"/profile", pprof.Profile)
	mux.HandleFunc(cfg.Prefix+"/symbol", pprof.Symbol)
	mux.HandleFunc(cfg.Prefix+"/trace", pprof.Trace)

	if cfg.Username == "" || cfg.Password == "" {
		return mux
	}
	return basicAuth("pprof", cfg.Username, cfg.Password, mux)
}

func basicAuth(realm, username, password string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok ||
			subtle.ConstantTimeCompare([]byte(user), []byte(username)) != 1 ||
			subtle.ConstantTimeCompare([]byte(pass), []byte(password)) != 1 {
			w.Header().Set("WWW-Authenticate", `Basic realm="`+realm+`"`)
			WriteError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

package httpapi

import (
	hpprof "net/http/pprof"

	"github.com/gorilla/mux"
)

// mountPprof serves runtime profiles under /debug/pprof/.
func mountPprof(r *mux.Router) {
	p := r.PathPrefix("/debug/pprof").Subrouter()
	p.HandleFunc("/cmdline", hpprof.Cmdline)
	p.HandleFunc("/profile", hpprof.Profile)
	p.HandleFunc("/symbol", hpprof.Symbol)
	p.HandleFunc("/trace", hpprof.Trace)
	p.PathPrefix("/").HandlerFunc(hpprof.Index)
}

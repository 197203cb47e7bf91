package handler

import (
	"net/http"

	"github.com/wadjakorntonsri/go-referral-engine/pkg/app"
	"github.com/wadjakorntonsri/go-referral-engine/pkg/config"
)

var mux http.Handler

func init() {
	cfg := config.Load()

	// Note: On Vercel, the sqlite file is ephemeral unless DATABASE_URL points at Turso.
	// Stats rebuild inline here since there is no long lived worker.
	a, err := app.New(cfg)
	if err != nil {
		panic(err)
	}
	mux = a.Handler()
}

// Handler is the entrypoint for Vercel
func Handler(w http.ResponseWriter, r *http.Request) {
	mux.ServeHTTP(w, r)
}

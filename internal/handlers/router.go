package handlers

import (
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/pagehook/internal/metrics"
	"github.com/Rorqualx/pagehook/internal/security"
	"github.com/Rorqualx/pagehook/internal/types"
)

// routeCommand validates req and routes it to its command handler.
func (h *Handler) routeCommand(w http.ResponseWriter, r *http.Request, req *types.Request, startTime time.Time) {
	if err := req.Validate(); err != nil {
		metrics.RecordRequest("invalid", types.StatusError, time.Since(startTime))
		h.writeError(w, err.Error(), startTime)
		return
	}

	var (
		resp *types.Response
		err  error
	)
	switch req.Cmd {
	case types.CmdRequestFetch:
		resp, err = h.handleFetch(r.Context(), req, startTime)
	case types.CmdPageRender:
		resp, err = h.handleRender(r.Context(), req, startTime)
	case types.CmdCookiesGet:
		resp, err = h.handleCookiesGet(req, startTime)
	case types.CmdCookiesSet:
		resp, err = h.handleCookiesSet(req, startTime)
	case types.CmdCookiesClear:
		resp, err = h.handleCookiesClear(startTime)
	case types.CmdScriptsList:
		resp, err = h.handleScriptsList(startTime)
	case types.CmdScriptsReload:
		resp, err = h.handleScriptsReload(startTime)
	}

	if err != nil {
		log.Warn().
			Err(err).
			Str("cmd", req.Cmd).
			Str("url", security.RedactURL(req.URL)).
			Msg("Command failed")
		metrics.RecordRequest(req.Cmd, types.StatusError, time.Since(startTime))
		h.writeError(w, err.Error(), startTime)
		return
	}

	resp.EndTime = time.Now().UnixMilli()
	metrics.RecordRequest(req.Cmd, resp.Status, time.Since(startTime))
	h.writeJSONResponse(w, http.StatusOK, resp)
}

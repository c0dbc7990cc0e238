package api

import (
	"encoding/base64"
	"net/http"

	"github.com/curtcox/cideldill/internal/apierr"
	"github.com/curtcox/cideldill/internal/casstore"
)

func (s *Server) handleCIDsQuery(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CIDs []string `json:"cids"`
	}
	if err := decodeBody(r, &body); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	missing, err := s.cids.Missing(body.CIDs)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"missing": missing})
}

func (s *Server) handleCIDsUpload(w http.ResponseWriter, r *http.Request) {
	var body map[string]string // cid -> base64 data
	if err := decodeBody(r, &body); err != nil {
		badRequest(w, "invalid request body")
		return
	}

	blobs := make(map[string][]byte, len(body))
	for cid, data := range body {
		raw, err := base64.StdEncoding.DecodeString(data)
		if err != nil {
			badRequest(w, "invalid base64 data for cid "+cid)
			return
		}
		blobs[cid] = raw
	}

	if err := s.cids.PutMany(blobs); err != nil {
		if mismatch, ok := err.(*casstore.MismatchError); ok {
			writeAPIError(w, apierr.New(apierr.CIDMismatch, map[string]any{"mismatched_cids": mismatch.CIDs}))
			return
		}
		badRequest(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stored": len(blobs)})
}

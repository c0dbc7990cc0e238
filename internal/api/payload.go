package api

import (
	"encoding/base64"
	"fmt"

	"github.com/curtcox/cideldill/internal/apierr"
	"github.com/curtcox/cideldill/internal/codec"
)

// cidPayload is the {cid, data?} tuple shape used throughout the wire
// protocol: data (base64) is present only when the sender believes the
// server doesn't already have the blob.
type cidPayload struct {
	CID    string `json:"cid"`
	Data   string `json:"data,omitempty"`
	Format string `json:"format,omitempty"`
}

func (p cidPayload) format(fallback codec.Format) codec.Format {
	if p.Format != "" {
		return codec.Format(p.Format)
	}
	return fallback
}

// collectPayloads verifies every payload that carries data against its
// claimed cid, accumulating new blobs to store and the cids of payloads
// that must already be present. It returns an *apierr.Error on the
// first cid_mismatch it finds.
func collectPayloads(payloads []cidPayload, blobs map[string][]byte, needExisting *[]string) *apierr.Error {
	for _, p := range payloads {
		if p.Data == "" {
			*needExisting = append(*needExisting, p.CID)
			continue
		}
		raw, err := base64.StdEncoding.DecodeString(p.Data)
		if err != nil {
			return apierr.New(apierr.BadRequest, map[string]any{"message": fmt.Sprintf("invalid base64 data for cid %s", p.CID)})
		}
		if !codec.Verify(raw, p.CID) {
			return apierr.New(apierr.CIDMismatch, map[string]any{
				"provided_cid": p.CID,
				"expected_cid": codec.ComputeCID(raw),
			})
		}
		blobs[p.CID] = raw
	}
	return nil
}

// decodePayloadValue resolves a cidPayload to its Go value: from its
// inline data if present, otherwise by fetching the blob the server
// already has on file.
func (s *Server) decodePayloadValue(p cidPayload, fallback codec.Format) (any, error) {
	if p.Data != "" {
		raw, err := base64.StdEncoding.DecodeString(p.Data)
		if err != nil {
			return nil, err
		}
		return codec.Deserialize(raw, p.format(fallback)), nil
	}
	blobs, err := s.cids.GetMany([]string{p.CID})
	if err != nil {
		return nil, err
	}
	raw, ok := blobs[p.CID]
	if !ok {
		return nil, fmt.Errorf("api: cid %s not found", p.CID)
	}
	return codec.Deserialize(raw, p.format(fallback)), nil
}

func encodePayload(value any, format codec.Format) (cid, dataB64 string) {
	payload := codec.Serialize(value, format)
	return payload.CID, base64.StdEncoding.EncodeToString(payload.Bytes)
}

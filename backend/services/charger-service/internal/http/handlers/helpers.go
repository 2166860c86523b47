package handlers

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"

	"ampease/backend/services/charger-service/internal/activation"
)

const maxBodyBytes = 64 << 10

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeRaw(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_, _ = w.Write(body)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// ClientIP returns the caller address, from X-Forwarded-For when trustProxy is set.
// forwarded reports whether the address came from the header.
func ClientIP(r *http.Request, trustProxy bool) (ip string, forwarded bool) {
	if trustProxy {
		if header := r.Header.Get("X-Forwarded-For"); header != "" {
			first, _, _ := strings.Cut(header, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip, true
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr, false
	}
	return host, false
}

func clientInfo(r *http.Request, trustProxy bool) activation.ClientInfo {
	ip, forwarded := ClientIP(r, trustProxy)
	return activation.ClientInfo{IP: ip, Forwarded: forwarded}
}

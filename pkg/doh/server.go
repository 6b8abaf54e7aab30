package doh

import (
	"encoding/base64"
	"io"
	"net"
	"net/http"

	"github.com/miekg/dns"
)

// Handler handles one DNS-over-HTTPS request after the DNS message has
// been unpacked from the HTTP request.
type Handler func(w http.ResponseWriter, httpReq *http.Request, dnsReq *dns.Msg) (*dns.Msg, error)

// NewServerMux returns an HTTP mux serving the DoH protocol from
// [RFC 8484] on the /dns-query endpoint, answering with handler. It
// exists so clients can be exercised against an in-process provider;
// dohping does not ship a DoH server.
//
// [RFC 8484]: https://tools.ietf.org/html/rfc8484
func NewServerMux(handler Handler) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/dns-query", func(w http.ResponseWriter, r *http.Request) {
		// https://datatracker.ietf.org/doc/html/rfc8484#section-4.1
		switch r.Method {
		case http.MethodPost:
			serverHandlePost(w, r, handler)
		case http.MethodGet:
			serverHandleGet(w, r, handler)
		default:
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		}
	})

	return mux
}

// StaticHandler answers every question from a fixed name-to-addresses
// zone. Names are fully qualified ("github.com."); unknown names produce
// an answerless NOERROR response.
func StaticHandler(zone map[string][]net.IP, ttl uint32) Handler {
	return func(w http.ResponseWriter, r *http.Request, dnsReq *dns.Msg) (*dns.Msg, error) {
		dnsResp := new(dns.Msg).SetReply(dnsReq)

		if len(dnsReq.Question) == 0 {
			return dnsResp, nil
		}

		question := dnsReq.Question[0]

		for _, ip := range zone[question.Name] {
			hdr := dns.RR_Header{
				Name:  question.Name,
				Class: dns.ClassINET,
				Ttl:   ttl,
			}

			if ip4 := ip.To4(); ip4 != nil {
				if question.Qtype != dns.TypeA {
					continue
				}
				hdr.Rrtype = dns.TypeA
				dnsResp.Answer = append(dnsResp.Answer, &dns.A{Hdr: hdr, A: ip4})
				continue
			}

			if question.Qtype != dns.TypeAAAA {
				continue
			}
			hdr.Rrtype = dns.TypeAAAA
			dnsResp.Answer = append(dnsResp.Answer, &dns.AAAA{Hdr: hdr, AAAA: ip})
		}

		return dnsResp, nil
	}
}

func serverHandlePost(w http.ResponseWriter, r *http.Request, handler Handler) {
	switch r.Header.Get("Content-Type") {
	case "application/dns-message":
		b, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}

		var dnsReq dns.Msg
		if err := dnsReq.Unpack(b); err != nil {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}

		serverHandleDNSReq(w, r, handler, &dnsReq)
	default:
		http.Error(w, http.StatusText(http.StatusUnsupportedMediaType), http.StatusUnsupportedMediaType)
	}
}

func serverHandleGet(w http.ResponseWriter, r *http.Request, handler Handler) {
	dnsParam := r.URL.Query().Get("dns")
	if dnsParam == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	dnsParamDecoded, err := base64.RawURLEncoding.DecodeString(dnsParam)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var dnsReq dns.Msg
	if err := dnsReq.Unpack(dnsParamDecoded); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	serverHandleDNSReq(w, r, handler, &dnsReq)
}

func serverHandleDNSReq(w http.ResponseWriter, r *http.Request, handler Handler, dnsReq *dns.Msg) {
	if handler == nil {
		http.Error(w, http.StatusText(http.StatusNotImplemented), http.StatusNotImplemented)
		return
	}

	dnsResp, err := handler(w, r, dnsReq)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	b, err := dnsResp.Pack()
	if err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/dns-message")
	w.WriteHeader(http.StatusOK)
	w.Write(b)
}

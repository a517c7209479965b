// SPDX-License-Identifier: MIT

package main

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"bgpinfo/pkg/as2org"
	"bgpinfo/pkg/collectors"
	"bgpinfo/pkg/commons"
	"bgpinfo/pkg/countries"
	"bgpinfo/pkg/model"
)

type server struct {
	commons *commons.Commons
}

func newServer(c *commons.Commons) *server {
	return &server{commons: c}
}

func (s *server) registerHandlers(r *mux.Router) {
	r.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	r.HandleFunc("/v1/rpki/validate/{prefix:.+}/{asn}", s.handleValidate).Methods("GET")
	r.HandleFunc("/v1/rpki/lookup/{prefix:.+}", s.handleLookup).Methods("GET")
	r.HandleFunc("/v1/rpki/aspa/{asn}", s.handleAspa).Methods("GET")
	r.HandleFunc("/v1/bogons/{query:.+}", s.handleBogons).Methods("GET")
	r.HandleFunc("/v1/countries/{query}", s.handleCountries).Methods("GET")
	r.HandleFunc("/v1/asnames/{asn}", s.handleAsname).Methods("GET")
	r.HandleFunc("/v1/as2rel/{asn1}/{asn2}", s.handleAs2Rel).Methods("GET")
	r.HandleFunc("/v1/as2org/{asn}", s.handleAs2Org).Methods("GET")
	r.HandleFunc("/v1/collectors", s.handleCollectors).Methods("GET")
	r.HandleFunc("/v1/peers", s.handlePeers).Methods("GET")
}

type errorOut struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("WARN: Failed to write response: %v", err)
	}
}

// writeError maps module errors onto HTTP statuses: a module that was not
// loaded at startup answers 503, bad input 400, everything else 500.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var notLoaded *commons.ModuleNotLoadedError
	switch {
	case errors.As(err, &notLoaded):
		status = http.StatusServiceUnavailable
	case errors.Is(err, model.ErrInvalidPrefix):
		status = http.StatusBadRequest
	}
	writeJSON(w, status, errorOut{Error: err.Error()})
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"rpki_loaded": s.commons.RpkiLoaded(),
	})
}

func pathASN(r *http.Request, key string) (uint32, error) {
	raw := mux.Vars(r)[key]
	n, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, errors.New("invalid AS number: " + raw)
	}
	return uint32(n), nil
}

type validationOut struct {
	Prefix     string `json:"prefix"`
	ASN        uint32 `json:"asn"`
	Validation string `json:"validation"`
	At         string `json:"at,omitempty"`
}

func (s *server) handleValidate(w http.ResponseWriter, r *http.Request) {
	prefix := mux.Vars(r)["prefix"]
	asn, err := pathASN(r, "asn")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorOut{Error: err.Error()})
		return
	}
	out := validationOut{Prefix: prefix, ASN: asn}

	var validation model.Validation
	if atStr := r.URL.Query().Get("at"); atStr != "" {
		at, err := time.Parse(time.RFC3339, atStr)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorOut{Error: "invalid at timestamp, want RFC3339"})
			return
		}
		validation, err = s.commons.RpkiValidateAt(prefix, asn, at)
		if err != nil {
			writeError(w, err)
			return
		}
		out.At = at.UTC().Format(time.RFC3339)
	} else {
		validation, err = s.commons.RpkiValidate(prefix, asn)
		if err != nil {
			writeError(w, err)
			return
		}
	}
	out.Validation = validation.String()
	writeJSON(w, http.StatusOK, out)
}

type roaOut struct {
	Prefix    string `json:"prefix"`
	ASN       uint32 `json:"asn"`
	MaxLength uint8  `json:"max_length"`
	RIR       string `json:"rir"`
	NotBefore string `json:"not_before,omitempty"`
	NotAfter  string `json:"not_after,omitempty"`
}

func roaToOut(roa model.Roa) roaOut {
	out := roaOut{
		Prefix:    roa.Prefix.String(),
		ASN:       roa.ASN,
		MaxLength: roa.MaxLength,
		RIR:       roa.RIR.String(),
	}
	if !roa.NotBefore.IsZero() {
		out.NotBefore = roa.NotBefore.UTC().Format(time.RFC3339)
	}
	if !roa.NotAfter.IsZero() {
		out.NotAfter = roa.NotAfter.UTC().Format(time.RFC3339)
	}
	return out
}

func (s *server) handleLookup(w http.ResponseWriter, r *http.Request) {
	roas, err := s.commons.RpkiLookupByPrefix(mux.Vars(r)["prefix"])
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]roaOut, 0, len(roas))
	for _, roa := range roas {
		out = append(out, roaToOut(roa))
	}
	writeJSON(w, http.StatusOK, out)
}

type aspaOut struct {
	CustomerASN uint32   `json:"customer_asn"`
	Providers   []uint32 `json:"providers"`
	Expires     string   `json:"expires,omitempty"`
}

func (s *server) handleAspa(w http.ResponseWriter, r *http.Request) {
	asn, err := pathASN(r, "asn")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorOut{Error: err.Error()})
		return
	}
	aspa, found, err := s.commons.RpkiAspa(asn)
	if err != nil {
		writeError(w, err)
		return
	}
	if !found {
		writeJSON(w, http.StatusNotFound, errorOut{Error: "no ASPA record for AS" + strconv.FormatUint(uint64(asn), 10)})
		return
	}
	out := aspaOut{CustomerASN: aspa.CustomerASN, Providers: aspa.Providers}
	if !aspa.Expires.IsZero() {
		out.Expires = aspa.Expires.UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *server) handleBogons(w http.ResponseWriter, r *http.Request) {
	query := mux.Vars(r)["query"]
	bogon, err := s.commons.BogonsMatch(query)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"query": query,
		"bogon": bogon,
	})
}

type countryOut struct {
	Code      string   `json:"code"`
	Code3     string   `json:"code3"`
	Name      string   `json:"name"`
	Capital   string   `json:"capital,omitempty"`
	Continent string   `json:"continent"`
	TLD       string   `json:"tld,omitempty"`
	Neighbors []string `json:"neighbors,omitempty"`
}

func countryToOut(c countries.Country) countryOut {
	return countryOut{
		Code:      c.Code,
		Code3:     c.Code3,
		Name:      c.Name,
		Capital:   c.Capital,
		Continent: c.Continent,
		TLD:       c.TLD,
		Neighbors: c.Neighbors,
	}
}

func (s *server) handleCountries(w http.ResponseWriter, r *http.Request) {
	query := mux.Vars(r)["query"]
	switch len(query) {
	case 2, 3:
		lookup := s.commons.CountryByCode
		if len(query) == 3 {
			lookup = s.commons.CountryByCode3
		}
		country, found, err := lookup(query)
		if err != nil {
			writeError(w, err)
			return
		}
		if !found {
			writeJSON(w, http.StatusNotFound, errorOut{Error: "unknown country code: " + query})
			return
		}
		writeJSON(w, http.StatusOK, countryToOut(country))
	default:
		matches, err := s.commons.CountriesByName(query)
		if err != nil {
			writeError(w, err)
			return
		}
		out := make([]countryOut, 0, len(matches))
		for _, c := range matches {
			out = append(out, countryToOut(c))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func (s *server) handleAsname(w http.ResponseWriter, r *http.Request) {
	asn, err := pathASN(r, "asn")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorOut{Error: err.Error()})
		return
	}
	name, found, err := s.commons.ASName(asn)
	if err != nil {
		writeError(w, err)
		return
	}
	if !found {
		writeJSON(w, http.StatusNotFound, errorOut{Error: "no name record for AS" + strconv.FormatUint(uint64(asn), 10)})
		return
	}
	writeJSON(w, http.StatusOK, struct {
		ASN     uint32 `json:"asn"`
		Name    string `json:"name"`
		Country string `json:"country"`
	}{name.ASN, name.Name, name.Country})
}

type observationOut struct {
	Relationship string `json:"relationship"`
	PeersCount   uint32 `json:"peers_count"`
	MaxPeerCount uint32 `json:"max_peer_count"`
}

func (s *server) handleAs2Rel(w http.ResponseWriter, r *http.Request) {
	asn1, err := pathASN(r, "asn1")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorOut{Error: err.Error()})
		return
	}
	asn2, err := pathASN(r, "asn2")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorOut{Error: err.Error()})
		return
	}
	v4, v6, err := s.commons.AS2RelLookup(asn1, asn2)
	if err != nil {
		writeError(w, err)
		return
	}
	out := struct {
		Asn1 uint32           `json:"asn1"`
		Asn2 uint32           `json:"asn2"`
		V4   []observationOut `json:"ipv4"`
		V6   []observationOut `json:"ipv6"`
	}{Asn1: asn1, Asn2: asn2, V4: []observationOut{}, V6: []observationOut{}}
	for _, obs := range v4 {
		out.V4 = append(out.V4, observationOut{obs.Rel.String(), obs.PeersCount, obs.MaxPeerCount})
	}
	for _, obs := range v6 {
		out.V6 = append(out.V6, observationOut{obs.Rel.String(), obs.PeersCount, obs.MaxPeerCount})
	}
	writeJSON(w, http.StatusOK, out)
}

type asInfoOut struct {
	ASN         uint32 `json:"asn"`
	Name        string `json:"name"`
	OrgID       string `json:"org_id"`
	OrgName     string `json:"org_name"`
	CountryCode string `json:"country_code"`
	Source      string `json:"source"`
}

func asInfoToOut(info as2org.AsInfo) asInfoOut {
	return asInfoOut{
		ASN:         info.ASN,
		Name:        info.Name,
		OrgID:       info.OrgID,
		OrgName:     info.OrgName,
		CountryCode: info.CountryCode,
		Source:      info.Source,
	}
}

func (s *server) handleAs2Org(w http.ResponseWriter, r *http.Request) {
	asn, err := pathASN(r, "asn")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorOut{Error: err.Error()})
		return
	}
	info, found, err := s.commons.AS2Org(asn)
	if err != nil {
		writeError(w, err)
		return
	}
	if !found {
		writeJSON(w, http.StatusNotFound, errorOut{Error: "no organization record for AS" + strconv.FormatUint(uint64(asn), 10)})
		return
	}
	out := struct {
		asInfoOut
		Siblings []asInfoOut `json:"siblings,omitempty"`
	}{asInfoOut: asInfoToOut(info)}
	if r.URL.Query().Get("siblings") == "true" {
		siblings, _, err := s.commons.AS2OrgSiblings(asn)
		if err != nil {
			writeError(w, err)
			return
		}
		for _, sib := range siblings {
			if sib.ASN == asn {
				continue
			}
			out.Siblings = append(out.Siblings, asInfoToOut(sib))
		}
	}
	writeJSON(w, http.StatusOK, out)
}

type peerOut struct {
	Date             string `json:"date"`
	IP               string `json:"ip"`
	ASN              uint32 `json:"asn"`
	Collector        string `json:"collector"`
	NumV4Prefixes    uint32 `json:"num_v4_pfxs"`
	NumV6Prefixes    uint32 `json:"num_v6_pfxs"`
	NumConnectedASNs uint32 `json:"num_connected_asns"`
	FullFeed         bool   `json:"full_feed"`
}

func (s *server) handlePeers(w http.ResponseWriter, r *http.Request) {
	peers, err := s.commons.MrtCollectorPeersAll()
	if err != nil {
		writeError(w, err)
		return
	}
	collector := r.URL.Query().Get("collector")
	fullFeedOnly := r.URL.Query().Get("full_feed") == "true"
	peers = collectors.FilterPeers(peers, collector, fullFeedOnly)
	out := make([]peerOut, 0, len(peers))
	for _, p := range peers {
		out = append(out, peerOut{
			Date:             p.Date.UTC().Format("2006-01-02"),
			IP:               p.IP.String(),
			ASN:              p.ASN,
			Collector:        p.Collector,
			NumV4Prefixes:    p.NumV4Prefixes,
			NumV6Prefixes:    p.NumV6Prefixes,
			NumConnectedASNs: p.NumConnectedASNs,
			FullFeed:         p.FullFeed(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type collectorOut struct {
	Name          string `json:"name"`
	Project       string `json:"project"`
	DataURL       string `json:"data_url"`
	Country       string `json:"country,omitempty"`
	ActivatedOn   string `json:"activated_on"`
	DeactivatedOn string `json:"deactivated_on,omitempty"`
}

func (s *server) handleCollectors(w http.ResponseWriter, r *http.Request) {
	all, err := s.commons.MrtCollectorsAll()
	if err != nil {
		writeError(w, err)
		return
	}
	country := r.URL.Query().Get("country")
	if country != "" {
		all, err = s.commons.MrtCollectorsByCountry(country)
		if err != nil {
			writeError(w, err)
			return
		}
	}
	activeOnly := r.URL.Query().Get("active") == "true"
	out := make([]collectorOut, 0, len(all))
	for _, col := range all {
		if activeOnly && !col.Active() {
			continue
		}
		entry := collectorOut{
			Name:        col.Name,
			Project:     col.Project.String(),
			DataURL:     col.DataURL,
			Country:     col.Country,
			ActivatedOn: col.ActivatedOn.UTC().Format("2006-01-02"),
		}
		if !col.DeactivatedOn.IsZero() {
			entry.DeactivatedOn = col.DeactivatedOn.UTC().Format("2006-01-02")
		}
		out = append(out, entry)
	}
	writeJSON(w, http.StatusOK, out)
}

package nitrado

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// OptString is an upstream string field that may be missing, null or blank.
type OptString struct {
	Value string
	Valid bool
}

// Get returns the trimmed value and whether it is present and non-blank.
func (o OptString) Get() (string, bool) {
	if !o.Valid {
		return "", false
	}
	v := strings.TrimSpace(o.Value)
	return v, v != ""
}

// UnmarshalJSON accepts strings and numbers, anything else leaves the field absent.
func (o *OptString) UnmarshalJSON(b []byte) error {
	*o = OptString{}

	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*o = OptString{Value: s, Valid: true}
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(b, &n); err == nil {
		*o = OptString{Value: n.String(), Valid: true}
	}

	return nil
}

// OptInt is an upstream integer field that may be missing, null or sent as a numeric string.
type OptInt struct {
	Value int
	Valid bool
}

// Get returns the value and whether it is present.
func (o OptInt) Get() (int, bool) {
	return o.Value, o.Valid
}

// UnmarshalJSON accepts numbers and numeric strings, anything else leaves the field absent.
func (o *OptInt) UnmarshalJSON(b []byte) error {
	*o = OptInt{}

	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}

	raw := string(b)
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return nil
		}
		raw = strings.TrimSpace(s)
	}

	if n, err := strconv.Atoi(raw); err == nil {
		*o = OptInt{Value: n, Valid: true}
		return nil
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		*o = OptInt{Value: int(f), Valid: true}
	}

	return nil
}

// QueryBlock is the live query data the management API sometimes embeds.
type QueryBlock struct {
	ServerName    OptString `json:"server_name"`
	Map           OptString `json:"map"`
	PlayerCurrent OptInt    `json:"player_current"`
	PlayerMax     OptInt    `json:"player_max"`
}

// HasPlayers reports whether the block carries a player count.
func (q QueryBlock) HasPlayers() bool {
	return q.PlayerCurrent.Valid
}

// UnmarshalJSON tolerates non-object payloads (the API sends [] for an empty block).
func (q *QueryBlock) UnmarshalJSON(b []byte) error {
	type plain QueryBlock
	var v plain
	if err := json.Unmarshal(b, &v); err != nil {
		*q = QueryBlock{}
		return nil
	}
	*q = QueryBlock(v)
	return nil
}

// Metadata is the gameserver description of one service.
type Metadata struct {
	Status     OptString
	Label      OptString
	IP         OptString
	ConfigMap  OptString
	ConfigName OptString
	Port       OptInt
	QueryPort  OptInt
	Slots      OptInt
	Query      QueryBlock
}

// Service is one entry of the account services listing.
type Service struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Name string `json:"name"`
	Game string `json:"game"`
}

// IsArk reports whether the service is an ARK gameserver.
func (s Service) IsArk() bool {
	return s.Type == "gameserver" && strings.Contains(strings.ToLower(s.Game), "ark")
}

type envelope[T any] struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

type gameserverData struct {
	Gameserver *rawGameserver `json:"gameserver"`
	Query      QueryBlock     `json:"query"`
}

type rawGameserver struct {
	Status    OptString   `json:"status"`
	Label     OptString   `json:"label"`
	IP        OptString   `json:"ip"`
	Port      OptInt      `json:"port"`
	QueryPort OptInt      `json:"query_port"`
	Slots     OptInt      `json:"slots"`
	Settings  rawSettings `json:"settings"`
	Query     QueryBlock  `json:"query"`
}

type rawSettings struct {
	Map        OptString
	ServerName OptString
}

// UnmarshalJSON reads settings.config.{map,server-name}, ignoring any other shape.
func (s *rawSettings) UnmarshalJSON(b []byte) error {
	var v struct {
		Config struct {
			Map        OptString `json:"map"`
			ServerName OptString `json:"server-name"`
		} `json:"config"`
	}
	if err := json.Unmarshal(b, &v); err != nil {
		*s = rawSettings{}
		return nil
	}
	*s = rawSettings{Map: v.Config.Map, ServerName: v.Config.ServerName}
	return nil
}

// queryData handles both {data:{query:{...}}} and a bare {data:{...}} block.
type queryData struct {
	Query  *QueryBlock `json:"query"`
	Inline QueryBlock  `json:"-"`
}

func (q *queryData) UnmarshalJSON(b []byte) error {
	var wrapped struct {
		Query *QueryBlock `json:"query"`
	}
	if err := json.Unmarshal(b, &wrapped); err != nil {
		return err
	}
	q.Query = wrapped.Query
	if q.Query == nil {
		return json.Unmarshal(b, &q.Inline)
	}
	return nil
}

// block returns the wrapped block when present, else the inline one.
func (q queryData) block() QueryBlock {
	if q.Query != nil {
		return *q.Query
	}
	return q.Inline
}

type playersData struct {
	Players []struct {
		Online *bool `json:"online"`
	} `json:"players"`
}

type servicesData struct {
	Services []struct {
		ID      OptString `json:"id"`
		Type    string    `json:"type"`
		Details struct {
			Name OptString `json:"name"`
			Game OptString `json:"game"`
		} `json:"details"`
	} `json:"services"`
}

package cluster

import (
	"fmt"
)

var (
	ErrEmptyMembership = fmt.Errorf("got empty membership response from the cluster")
)

type container map[string]interface{}

func (c container) getInt64(key string) (int64, error) {
	switch t := c[key].(type) {
	case int64:
		return t, nil
	case int32:
		return int64(t), nil
	case int16:
		return int64(t), nil
	case int:
		return int64(t), nil
	case uint64:
		return int64(t), nil
	default:
		return 0, fmt.Errorf("field '%s' (%T) is not found or has unexpected type in container: %v", key, c[key], c)
	}
}

func (c container) getString(key string) (string, error) {
	v, ok := c[key].(string)
	if !ok {
		return "", fmt.Errorf("field '%s' (%T) is not found or has unexpected type in container: %v", key, c[key], c)
	}
	return v, nil
}

// getOptString returns an empty string for missing or NULL columns.
func (c container) getOptString(key string) (string, error) {
	if c[key] == nil {
		return "", nil
	}

	return c.getString(key)
}

// ParseServers converts rows of the membership query into servers.
// Rows are column name to value maps as produced by pgx.RowToMap.
func ParseServers(rows []map[string]interface{}) ([]ServerInfo, error) {
	if len(rows) == 0 {
		return nil, ErrEmptyMembership
	}

	servers := make([]ServerInfo, 0, len(rows))
	for _, row := range rows {
		s, err := parseServer(row)
		if err != nil {
			return nil, err
		}
		servers = append(servers, s)
	}

	return servers, nil
}

func parseServer(row container) (ServerInfo, error) {
	host, err := row.getString("host")
	if err != nil {
		return ServerInfo{}, err
	}

	port, err := row.getInt64("port")
	if err != nil {
		return ServerInfo{}, err
	}

	var numConnections int64
	if row["num_connections"] != nil {
		numConnections, err = row.getInt64("num_connections")
		if err != nil {
			return ServerInfo{}, err
		}
	}

	s := ServerInfo{
		Host:           host,
		Port:           int(port),
		NumConnections: int(numConnections),
	}

	optional := []struct {
		key string
		dst *string
	}{
		{"node_type", &s.NodeType},
		{"cloud", &s.Cloud},
		{"region", &s.Region},
		{"zone", &s.Zone},
		{"public_ip", &s.PublicIP},
		{"uuid", &s.UUID},
	}
	for _, f := range optional {
		v, err := row.getOptString(f.key)
		if err != nil {
			return ServerInfo{}, err
		}
		*f.dst = v
	}

	return s, nil
}

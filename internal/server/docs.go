package server

import (
	"encoding/json"
	"net/http"
	"os"

	"github.com/gorilla/mux"
	"gopkg.in/yaml.v2"
)

const defaultSpecPath = "docs/openapi.yaml"

// setupDocsRoutes serves the OpenAPI document in YAML and JSON form.
func (s *Server) setupDocsRoutes(r *mux.Router) {
	r.HandleFunc("/openapi.yaml", s.handleOpenAPIYAML).Methods("GET")
	r.HandleFunc("/openapi.json", s.handleOpenAPIJSON).Methods("GET")
}

func (s *Server) handleOpenAPIYAML(w http.ResponseWriter, r *http.Request) {
	data, err := os.ReadFile(defaultSpecPath)
	if err != nil {
		http.Error(w, "OpenAPI spec not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/yaml")
	w.Write(data)
}

func (s *Server) handleOpenAPIJSON(w http.ResponseWriter, r *http.Request) {
	data, err := os.ReadFile(defaultSpecPath)
	if err != nil {
		http.Error(w, "OpenAPI spec not found", http.StatusNotFound)
		return
	}

	var spec interface{}
	if err := yaml.Unmarshal(data, &spec); err != nil {
		http.Error(w, "Error parsing OpenAPI spec", http.StatusInternalServerError)
		return
	}

	out, err := json.MarshalIndent(normalizeYAML(spec), "", "  ")
	if err != nil {
		http.Error(w, "Error converting to JSON", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(out)
}

// normalizeYAML rewrites yaml.v2's map[interface{}]interface{} values into
// map[string]interface{} so encoding/json can marshal them.
func normalizeYAML(v interface{}) interface{} {
	switch val := v.(type) {
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			key, ok := k.(string)
			if !ok {
				continue
			}
			out[key] = normalizeYAML(item)
		}
		return out
	case []interface{}:
		for i, item := range val {
			val[i] = normalizeYAML(item)
		}
		return val
	default:
		return val
	}
}

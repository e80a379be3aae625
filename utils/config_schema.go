package utils

// ConfigSchema is the JSON schema every config.json document must
// satisfy before it is unmarshalled.
const ConfigSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["service_config", "feature_types"],
  "properties": {
    "service_config": {
      "type": "object",
      "properties": {
        "ows_hostname": {"type": "string"},
        "title": {"type": "string"},
        "abstract": {"type": "string"},
        "keywords": {"type": "array", "items": {"type": "string"}},
        "contact": {"type": "object"},
        "store_dsn": {"type": "string"},
        "memcache_uri": {"type": "string"},
        "metrics_addr": {"type": "string"},
        "max_features_limit": {"type": "integer", "minimum": 0},
        "wfs_timeout": {"type": "integer", "minimum": 0}
      }
    },
    "feature_types": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name"],
        "properties": {
          "name": {"type": "string", "pattern": "^[A-Za-z_][A-Za-z0-9_:.-]*$"},
          "title": {"type": "string"},
          "abstract": {"type": "string"},
          "namespace": {"type": "string"},
          "crs": {"type": "string", "pattern": "^[A-Za-z]+:[0-9]+$"},
          "extent": {
            "type": "array",
            "items": {"type": "number"},
            "minItems": 4,
            "maxItems": 4
          },
          "data_source": {"type": "string"},
          "id_field": {"type": "string"},
          "max_features": {"type": "integer", "minimum": 0},
          "fields": {
            "type": "array",
            "items": {
              "type": "object",
              "required": ["name", "type"],
              "properties": {
                "name": {"type": "string", "pattern": "^[A-Za-z_][A-Za-z0-9_]*$"},
                "type": {"enum": ["string", "integer", "float", "datetime", "geometry"]},
                "nullable": {"type": "boolean"},
                "crs": {"type": "string"}
              }
            }
          }
        }
      }
    },
    "stored_queries": {
      "type": "array",
      "items": {"type": "string"}
    }
  }
}`

package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/AbhayRathi/AgenticRefunds/pkg/validation"
)

const schemaBase = "https://schemas.agenticrefunds.local/api/"

// Request schema names.
const (
	schemaEvaluate  = "evaluate"
	schemaProcess   = "process"
	schemaNegotiate = "negotiate"
	schemaSimulate  = "simulate"
)

const definitionsSchema = `{
  "$id": "` + schemaBase + `defs.schema.json",
  "$defs": {
    "systemLog": {
      "type": "object",
      "required": ["orderId", "timestamp", "eventType"],
      "properties": {
        "orderId": {"type": "string", "minLength": 1},
        "timestamp": {"type": "integer", "exclusiveMinimum": 0},
        "eventType": {"enum": ["ORDER_CREATED", "ORDER_PREPARED", "DELIVERY_STARTED", "DELIVERY_DELAYED", "DELIVERY_COMPLETED", "ERROR_OCCURRED", "TEMPERATURE_VIOLATION"]},
        "latency": {"type": "integer", "minimum": 0},
        "errorMessage": {"type": "string"},
        "metadata": {"type": "object"}
      }
    },
    "systemLogs": {"type": "array", "minItems": 1, "items": {"$ref": "#/$defs/systemLog"}},
    "orderItem": {
      "type": "object",
      "required": ["name", "quantity", "price"],
      "properties": {
        "name": {"type": "string", "minLength": 1},
        "quantity": {"type": "integer", "exclusiveMinimum": 0},
        "price": {"type": "number", "minimum": 0}
      }
    },
    "deliveryOrder": {
      "type": "object",
      "required": ["orderId", "customerId", "restaurantId", "items", "totalAmount", "deliveryAddress", "orderTimestamp", "status"],
      "properties": {
        "orderId": {"type": "string", "minLength": 1},
        "customerId": {"type": "string", "minLength": 1},
        "restaurantId": {"type": "string", "minLength": 1},
        "items": {"type": "array", "minItems": 1, "items": {"$ref": "#/$defs/orderItem"}},
        "totalAmount": {"type": "number", "exclusiveMinimum": 0},
        "deliveryAddress": {"type": "string", "minLength": 1},
        "orderTimestamp": {"type": "integer", "exclusiveMinimum": 0},
        "deliveryTimestamp": {"type": "integer", "exclusiveMinimum": 0},
        "status": {"enum": ["PENDING", "PREPARING", "OUT_FOR_DELIVERY", "DELIVERED", "CANCELLED"]}
      }
    },
    "wallet": {"type": "string", "pattern": "^0x[a-fA-F0-9]{40}$"},
    "id": {"type": "string", "minLength": 1}
  }
}`

var requestSchemas = map[string]string{
	schemaEvaluate: `{
  "type": "object",
  "required": ["orderId", "customerId", "systemLogs", "deliveryOrder"],
  "properties": {
    "orderId": {"$ref": "defs.schema.json#/$defs/id"},
    "customerId": {"$ref": "defs.schema.json#/$defs/id"},
    "systemLogs": {"$ref": "defs.schema.json#/$defs/systemLogs"},
    "deliveryOrder": {"$ref": "defs.schema.json#/$defs/deliveryOrder"}
  }
}`,
	schemaProcess: `{
  "type": "object",
  "required": ["orderId", "customerId", "customerWalletAddress", "systemLogs", "deliveryOrder"],
  "properties": {
    "orderId": {"$ref": "defs.schema.json#/$defs/id"},
    "customerId": {"$ref": "defs.schema.json#/$defs/id"},
    "customerWalletAddress": {"$ref": "defs.schema.json#/$defs/wallet"},
    "systemLogs": {"$ref": "defs.schema.json#/$defs/systemLogs"},
    "deliveryOrder": {"$ref": "defs.schema.json#/$defs/deliveryOrder"}
  }
}`,
	schemaNegotiate: `{
  "type": "object",
  "required": ["orderId", "customerId", "walletAddress", "choice", "amount"],
  "properties": {
    "orderId": {"$ref": "defs.schema.json#/$defs/id"},
    "customerId": {"$ref": "defs.schema.json#/$defs/id"},
    "walletAddress": {"$ref": "defs.schema.json#/$defs/wallet"},
    "choice": {"enum": ["cash", "credit"]},
    "amount": {"type": "number", "exclusiveMinimum": 0}
  }
}`,
	schemaSimulate: `{
  "type": "object",
  "required": ["issueType"],
  "properties": {
    "issueType": {"enum": ["LATE_DELIVERY", "COLD_FOOD", "SYSTEM_ERROR"]},
    "latencyMs": {"type": "integer", "minimum": 0}
  }
}`,
}

// schemaSet holds the compiled request schemas.
type schemaSet map[string]*jsonschema.Schema

func compileSchemas() (schemaSet, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(schemaBase+"defs.schema.json", strings.NewReader(definitionsSchema)); err != nil {
		return nil, fmt.Errorf("api: load schema defs: %w", err)
	}
	for name, src := range requestSchemas {
		if err := c.AddResource(schemaBase+name+".schema.json", strings.NewReader(src)); err != nil {
			return nil, fmt.Errorf("api: load schema %s: %w", name, err)
		}
	}
	set := make(schemaSet, len(requestSchemas))
	for name := range requestSchemas {
		compiled, err := c.Compile(schemaBase + name + ".schema.json")
		if err != nil {
			return nil, fmt.Errorf("api: compile schema %s: %w", name, err)
		}
		set[name] = compiled
	}
	return set, nil
}

// validate checks body against the named schema and returns a
// *validation.Error naming the first offending field.
func (s schemaSet) validate(name string, body []byte) error {
	schema, ok := s[name]
	if !ok {
		return fmt.Errorf("api: unknown schema %q", name)
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return validation.Errorf("", "request body is not valid JSON")
	}
	err := schema.Validate(doc)
	if err == nil {
		return nil
	}
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return fmt.Errorf("api: schema %s: %w", name, err)
	}
	leaf := verr
	for len(leaf.Causes) > 0 {
		leaf = leaf.Causes[0]
	}
	return validation.Errorf(fieldPath(leaf.InstanceLocation), "%s", leaf.Message)
}

// fieldPath renders a JSON pointer as a dotted path, e.g.
// "/systemLogs/0/timestamp" becomes "systemLogs[0].timestamp".
func fieldPath(pointer string) string {
	parts := strings.Split(strings.TrimPrefix(pointer, "/"), "/")
	var b strings.Builder
	for _, p := range parts {
		if p == "" {
			continue
		}
		if isIndex(p) {
			b.WriteString("[" + p + "]")
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		b.WriteString(p)
	}
	return b.String()
}

func isIndex(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

package api

const submitRefundSchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["order", "reason", "requested_ratio"],
  "properties": {
    "order": {
      "type": "object",
      "additionalProperties": false,
      "required": ["order_id", "hotel_id", "actual_paid"],
      "properties": {
        "order_id": {"type": "string", "minLength": 1, "maxLength": 64},
        "order_no": {"type": "string", "maxLength": 64},
        "hotel_id": {"type": "string", "minLength": 1, "maxLength": 64},
        "hotel_name": {"type": "string", "maxLength": 255},
        "guest_name": {"type": "string", "maxLength": 255},
        "guest_phone": {"type": "string", "maxLength": 32},
        "actual_paid": {
          "oneOf": [
            {"type": "string", "pattern": "^-?[0-9]+(\\.[0-9]+)?$"},
            {"type": "number"}
          ]
        },
        "currency": {"type": "string", "pattern": "^[A-Z]{3}$"}
      }
    },
    "reason": {"type": "string", "minLength": 1, "maxLength": 2000},
    "evidence": {
      "type": "array",
      "maxItems": 20,
      "items": {"type": "string", "minLength": 1, "maxLength": 2048}
    },
    "requested_ratio": {"type": "integer"}
  }
}`

const merchantResponseSchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["decision"],
  "properties": {
    "text": {"type": "string", "maxLength": 2000},
    "decision": {"type": "string", "enum": ["accept", "reject", "counter"]},
    "counter_ratio": {"type": "integer"},
    "guest_escalates": {"type": "boolean"}
  }
}`

const declineCounterSchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["escalate"],
  "properties": {
    "escalate": {"type": "boolean"}
  }
}`

const noteSchema = `{
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "note": {"type": "string", "maxLength": 2000}
  }
}`

const addArbitratorSchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["hotel_id", "name", "phone"],
  "properties": {
    "hotel_id": {"type": "string", "minLength": 1, "maxLength": 64},
    "hotel_name": {"type": "string", "maxLength": 255},
    "name": {"type": "string", "minLength": 1, "maxLength": 255},
    "phone": {"type": "string", "minLength": 3, "maxLength": 32}
  }
}`

const setActiveSchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["active"],
  "properties": {
    "active": {"type": "boolean"}
  }
}`

const castVoteSchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["arbitrator_id", "decision"],
  "properties": {
    "arbitrator_id": {"type": "string", "minLength": 1},
    "decision": {"type": "string", "enum": ["SUPPORT", "OPPOSE"]},
    "comment": {"type": "string", "maxLength": 2000}
  }
}`

package api

const transferSchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["sender_id", "amount", "idempotency_key"],
  "properties": {
    "sender_id": {"type": "string", "minLength": 1},
    "recipient_id": {"type": "string"},
    "recipient_phone": {"type": "string"},
    "amount": {"type": "integer", "exclusiveMinimum": 0},
    "currency": {"type": "string", "pattern": "^[A-Z]{3}$"},
    "idempotency_key": {"type": "string", "minLength": 1, "maxLength": 128}
  }
}`

const cashMovementSchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["user_id", "agent_id", "amount", "idempotency_key"],
  "properties": {
    "user_id": {"type": "string", "minLength": 1},
    "agent_id": {"type": "string", "minLength": 1},
    "amount": {"type": "integer", "exclusiveMinimum": 0},
    "idempotency_key": {"type": "string", "minLength": 1, "maxLength": 128}
  }
}`

const createAccountSchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["phone", "name", "role", "country"],
  "properties": {
    "phone": {"type": "string", "minLength": 6, "maxLength": 20},
    "name": {"type": "string", "minLength": 1, "maxLength": 255},
    "role": {"type": "string", "enum": ["user", "agent", "admin"]},
    "country": {"type": "string", "pattern": "^[A-Za-z]{2}$"}
  }
}`

package media

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

type frameSchemaRegistry struct {
	once    sync.Once
	initErr error
	res     *jsonschema.Schema
	event   *jsonschema.Schema
	payload map[string]*jsonschema.Schema
}

var frameSchemas frameSchemaRegistry

func initFrameSchemas() error {
	frameSchemas.once.Do(func() {
		resSchema, err := jsonschema.CompileString("bridge_res", resFrameSchema)
		if err != nil {
			frameSchemas.initErr = err
			return
		}
		frameSchemas.res = resSchema

		eventSchema, err := jsonschema.CompileString("bridge_event", eventFrameSchema)
		if err != nil {
			frameSchemas.initErr = err
			return
		}
		frameSchemas.event = eventSchema

		payloads := map[string]string{
			"turn.completed":           turnCompletedPayloadSchema,
			"participant.joined":       participantPayloadSchema,
			"participant.disconnected": participantPayloadSchema,
			"speech.started":           speechPayloadSchema,
			"speech.completed":         speechPayloadSchema,
			"job.request":              jobRequestPayloadSchema,
		}

		frameSchemas.payload = make(map[string]*jsonschema.Schema, len(payloads))
		for name, schema := range payloads {
			compiled, err := jsonschema.CompileString("bridge_payload_"+name, schema)
			if err != nil {
				frameSchemas.initErr = err
				return
			}
			frameSchemas.payload[name] = compiled
		}
	})
	return frameSchemas.initErr
}

// validateResponseFrame checks a res frame against the protocol schema.
func validateResponseFrame(raw []byte) error {
	if err := initFrameSchemas(); err != nil {
		return err
	}
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return err
	}
	return frameSchemas.res.Validate(payload)
}

// validateEventFrame checks an event frame and, for known event names, its
// payload. Unknown events pass with only the envelope validated so new
// bridge versions do not break older workers.
func validateEventFrame(raw []byte, frame *Frame) error {
	if err := initFrameSchemas(); err != nil {
		return err
	}

	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return err
	}
	if err := frameSchemas.event.Validate(payload); err != nil {
		return err
	}
	if frame == nil {
		return fmt.Errorf("missing frame")
	}
	if schema := frameSchemas.payload[frame.Event]; schema != nil {
		var body any
		if len(frame.Payload) == 0 {
			body = map[string]any{}
		} else if err := json.Unmarshal(frame.Payload, &body); err != nil {
			return err
		}
		if err := schema.Validate(body); err != nil {
			return err
		}
	}
	return nil
}

const resFrameSchema = `{
  "type": "object",
  "required": ["type", "id"],
  "properties": {
    "type": { "const": "res" },
    "id": { "type": "string", "minLength": 1 },
    "ok": { "type": "boolean" },
    "error": {
      "type": "object",
      "properties": {
        "code": { "type": "string" },
        "message": { "type": "string" }
      },
      "additionalProperties": true
    }
  },
  "additionalProperties": true
}`

const eventFrameSchema = `{
  "type": "object",
  "required": ["type", "event"],
  "properties": {
    "type": { "const": "event" },
    "event": { "type": "string", "minLength": 1 },
    "payload": {}
  },
  "additionalProperties": true
}`

const turnCompletedPayloadSchema = `{
  "type": "object",
  "required": ["room", "text"],
  "properties": {
    "room": { "type": "string", "minLength": 1 },
    "text": { "type": "string" },
    "participant": { "type": "string" }
  },
  "additionalProperties": true
}`

const participantPayloadSchema = `{
  "type": "object",
  "required": ["room", "identity"],
  "properties": {
    "room": { "type": "string", "minLength": 1 },
    "identity": { "type": "string", "minLength": 1 }
  },
  "additionalProperties": true
}`

const speechPayloadSchema = `{
  "type": "object",
  "required": ["room", "utterance_id"],
  "properties": {
    "room": { "type": "string", "minLength": 1 },
    "utterance_id": { "type": "string", "minLength": 1 }
  },
  "additionalProperties": true
}`

const jobRequestPayloadSchema = `{
  "type": "object",
  "required": ["room"],
  "properties": {
    "room": { "type": "string", "minLength": 1 },
    "metadata": {},
    "dispatch_id": { "type": "string" }
  },
  "additionalProperties": true
}`

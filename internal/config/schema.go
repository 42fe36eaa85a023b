package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed scaling.schema.json
var scalingSchemaSource string

const scalingSchemaURL = "https://poolscaler.io/schemas/scaling.json"

var (
	scalingSchema     *jsonschema.Schema
	scalingSchemaErr  error
	scalingSchemaOnce sync.Once
)

func compiledScalingSchema() (*jsonschema.Schema, error) {
	scalingSchemaOnce.Do(func() {
		scalingSchema, scalingSchemaErr = jsonschema.CompileString(scalingSchemaURL, scalingSchemaSource)
	})
	return scalingSchema, scalingSchemaErr
}

// ValidateScalingDocument 用JSON Schema校验策略文档结构
// raw 可以来自viper (YAML) 或 unstructured 对象
func ValidateScalingDocument(raw interface{}) error {
	schema, err := compiledScalingSchema()
	if err != nil {
		return fmt.Errorf("compile scaling schema: %w", err)
	}

	payload, err := normalizeJSON(raw)
	if err != nil {
		return err
	}

	return schema.Validate(payload)
}

// normalizeJSON 转换为纯JSON类型（数字为json.Number）
func normalizeJSON(raw interface{}) (interface{}, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("encode scaling document: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var payload interface{}
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode scaling document: %w", err)
	}
	return payload, nil
}

// DecodeScaling 将unstructured形式的策略文档解码为ScalingConfig
func DecodeScaling(raw map[string]interface{}) (ScalingConfig, error) {
	var cfg ScalingConfig
	if err := ValidateScalingDocument(raw); err != nil {
		return cfg, fmt.Errorf("invalid scaling document: %w", err)
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return cfg, fmt.Errorf("encode scaling document: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("decode scaling document: %w", err)
	}
	return cfg, nil
}

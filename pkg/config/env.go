package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// EnvPrefix prefixes every environment override, e.g. PROMPTSMITH_LOOP_MAX_ITERATIONS.
const EnvPrefix = "PROMPTSMITH_"

// envAliases are short names accepted alongside the derived keys.
//
//nolint:gochecknoglobals // static alias table
var envAliases = map[string]string{
	"PROMPTSMITH_MAX_ITERATIONS":    "PROMPTSMITH_LOOP_MAX_ITERATIONS",
	"PROMPTSMITH_OPTIMAL_THRESHOLD": "PROMPTSMITH_LOOP_OPTIMAL_THRESHOLD",
	"PROMPTSMITH_STORE":             "PROMPTSMITH_STORE_BACKEND",
	"PROMPTSMITH_MODEL":             "PROMPTSMITH_LLM_MODEL",
	"REDIS_URL":                     "PROMPTSMITH_STORE_REDIS_URL",
}

func applyEnvOverrides(cfg *Config) {
	for alias, key := range envAliases {
		if v := os.Getenv(alias); v != "" && os.Getenv(key) == "" {
			overrides[key] = v
		}
	}
	defer clearOverrides()

	v := reflect.ValueOf(cfg).Elem()
	applyEnvOverridesRecursive(v, v.Type(), EnvPrefix)
}

//nolint:gochecknoglobals // only touched while mu is held
var overrides = map[string]string{}

func clearOverrides() {
	for k := range overrides {
		delete(overrides, k)
	}
}

func lookupEnv(key string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return overrides[key]
}

func applyEnvOverridesRecursive(v reflect.Value, t reflect.Type, prefix string) {
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		jsonTag := fieldType.Tag.Get("json")
		if jsonTag == "" || jsonTag == "-" {
			continue
		}

		fieldName := strings.Split(jsonTag, ",")[0]
		envKey := strings.ToUpper(prefix + fieldName)

		if field.Kind() == reflect.Struct {
			applyEnvOverridesRecursive(field, field.Type(), envKey+"_")
			continue
		}
		if envValue := lookupEnv(envKey); envValue != "" {
			if err := setFieldFromEnv(field, envValue); err != nil {
				getLogger().Warn("⚠️  Ignoring %s: %v", envKey, err)
			}
		}
	}
}

func setFieldFromEnv(field reflect.Value, envValue string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(envValue)
	case reflect.Bool:
		val, err := strconv.ParseBool(envValue)
		if err != nil {
			return fmt.Errorf("failed to parse bool from '%s': %w", envValue, err)
		}
		field.SetBool(val)
	case reflect.Int, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(envValue)
			if err != nil {
				return fmt.Errorf("failed to parse duration from '%s': %w", envValue, err)
			}
			field.SetInt(int64(d))
			return nil
		}
		val, err := strconv.Atoi(envValue)
		if err != nil {
			return fmt.Errorf("failed to parse int from '%s': %w", envValue, err)
		}
		field.SetInt(int64(val))
	case reflect.Float64:
		val, err := strconv.ParseFloat(envValue, 64)
		if err != nil {
			return fmt.Errorf("failed to parse float from '%s': %w", envValue, err)
		}
		field.SetFloat(val)
	}
	return nil
}

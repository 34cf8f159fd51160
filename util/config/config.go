// Copyright 2024 The CubeFS Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

// Package config loads JSON or YAML config files into structs and
// validates them by `validate` struct tags.
package config

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/go-playground/validator.v9"
	"gopkg.in/yaml.v2"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
	validate.RegisterValidation("required_with_parent", requiredWithParent) // nolint: errcheck
}

// LoadFile loads config file into conf, by extension .yaml/.yml as YAML,
// others as JSON. Unknown fields are rejected.
func LoadFile(conf interface{}, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return errors.Wrapf(err, "read config %s", filename)
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		err = LoadYAMLData(conf, data)
	default:
		err = LoadData(conf, data)
	}
	return errors.Wrapf(err, "load config %s", filename)
}

// LoadData strict JSON loading then validating.
func LoadData(conf interface{}, data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(conf); err != nil {
		return err
	}
	return Validate(conf)
}

// SafeLoadData JSON loading ignoring unknown fields, without validating.
func SafeLoadData(conf interface{}, data []byte) error {
	return json.Unmarshal(data, conf)
}

// LoadYAMLData strict YAML loading then validating.
func LoadYAMLData(conf interface{}, data []byte) error {
	if err := yaml.UnmarshalStrict(data, conf); err != nil {
		return err
	}
	return Validate(conf)
}

// Validate checks struct tags of conf, non struct values pass.
func Validate(conf interface{}) error {
	val := reflect.ValueOf(conf)
	for val.Kind() == reflect.Ptr || val.Kind() == reflect.Interface {
		if val.IsNil() {
			return nil
		}
		val = val.Elem()
	}
	if val.Kind() != reflect.Struct {
		return nil
	}
	return validate.Struct(conf)
}

func requiredWithParent(fl validator.FieldLevel) bool {
	parent := fl.Parent()
	if !isZero(parent) {
		return !isZero(fl.Field())
	}
	return true
}

// isZero is a func for checking whether value is zero
func isZero(field reflect.Value) bool {
	switch field.Kind() {
	case reflect.Ptr:
		if field.IsNil() {
			return true
		}
		return isZero(field.Elem())
	case reflect.Interface, reflect.Chan, reflect.Func:
		return field.IsNil()
	case reflect.Slice, reflect.Map:
		return field.Len() == 0
	case reflect.Struct:
		for i, n := 0, field.NumField(); i < n; i++ {
			if !isZero(field.Field(i)) {
				return false
			}
		}
		return true
	default:
		if !field.IsValid() {
			return true
		}
		return field.IsZero()
	}
}

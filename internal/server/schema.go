/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package server

import (
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// convertSchema describes the POST /convert body. image_data may be null or
// missing at the schema level so that case gets its own error message.
const convertSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "image_data": {"type": ["string", "null"]},
    "macros":     {"type": ["string", "null"]},
    "prompt":     {"type": ["string", "null"]}
  }
}`

var errInvalidJSON = errors.New("request body is not valid JSON")

func compileConvertSchema() (*gojsonschema.Schema, error) {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(convertSchema))
	if err != nil {
		return nil, fmt.Errorf("compile convert schema: %w", err)
	}
	return s, nil
}

// validateBody checks body against schema and returns a readable error listing
// every violation.
func validateBody(schema *gojsonschema.Schema, body []byte) error {
	res, err := schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return errInvalidJSON
	}
	if res.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(res.Errors()))
	for _, e := range res.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("invalid request: %s", strings.Join(msgs, "; "))
}

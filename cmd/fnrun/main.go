// Licensed to the Apache Software Foundation (ASF) under one or more
// contributor license agreements.  See the NOTICE file distributed with
// this work for additional information regarding copyright ownership.
// The ASF licenses this file to You under the Apache License, Version 2.0
// (the "License"); you may not use this file except in compliance with
// the License.  You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// fnrun runs a built-in splittable DoFn over the elements of a YAML run
// file, inside a single bundle, optionally splitting the element in flight
// from a second goroutine.
package main

import (
	"context"
	"os"

	"github.com/apache/beam-fnexec/cmd/fnrun/cmd"
	"github.com/apache/beam-fnexec/pkg/beam/log"
)

func main() {
	ctx := context.Background()
	if err := cmd.Root.ExecuteContext(ctx); err != nil {
		log.Errorf(ctx, "fnrun failed: %v", err)
		os.Exit(1)
	}
}

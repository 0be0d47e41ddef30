// Copyright (C) The Wunderbar Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package main

import "github.com/wunderbar/wunderbar"

func main() {
	wunderbar.Main()
}

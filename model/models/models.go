package models

import (
	_ "github.com/deepfusion/dfnet/model/dfnet"
)

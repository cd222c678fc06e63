// Command foodfusion はFoodFusionのAPIサーバー、ワーカー、マイグレーションを起動する。
//
//	foodfusion [serve|worker|migrate|healthcheck]
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/foodfusion/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "foodfusion: %v\n", err)
		os.Exit(1)
	}
}

package main

import (
	"context"
	"fmt"
	"time"

	blu "github.com/blusocial/blu-go"
	"github.com/spf13/cobra"
)

var locationFlags struct {
	lat     float64
	lon     float64
	city    string
	state   string
	country string
}

func init() {
	locationCmd.Flags().Float64Var(&locationFlags.lat, "lat", 0, "latitude (required)")
	locationCmd.Flags().Float64Var(&locationFlags.lon, "lon", 0, "longitude (required)")
	locationCmd.Flags().StringVar(&locationFlags.city, "city", "", "city name")
	locationCmd.Flags().StringVar(&locationFlags.state, "state", "", "state or region")
	locationCmd.Flags().StringVar(&locationFlags.country, "country", "", "country name")
	locationCmd.MarkFlagRequired("lat")
	locationCmd.MarkFlagRequired("lon")
	rootCmd.AddCommand(locationCmd)
}

var locationCmd = &cobra.Command{
	Use:   "location",
	Short: "Submit a resolved location for the logged-in phone number",
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr := getManager()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		err := mgr.SaveLocation(ctx, &blu.Location{
			Latitude:  locationFlags.lat,
			Longitude: locationFlags.lon,
			City:      locationFlags.city,
			State:     locationFlags.state,
			Country:   locationFlags.country,
		})
		if err != nil {
			return err
		}
		fmt.Println("Location saved.")
		return nil
	},
}

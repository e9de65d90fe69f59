package main

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/location"
	"github.com/rs/zerolog/log"
)

type locationAPI interface {
	SearchPlaceIndexForPosition(ctx context.Context, params *location.SearchPlaceIndexForPositionInput, optFns ...func(*location.Options)) (*location.SearchPlaceIndexForPositionOutput, error)
}

// Geocoder resolves GPS coordinates to a place via an Amazon Location
// place index.
type Geocoder struct {
	client    locationAPI
	indexName string
}

func NewGeocoder(client locationAPI, indexName string) *Geocoder {
	return &Geocoder{client: client, indexName: indexName}
}

// Reverse is best effort: a missing index, lookup failure, or empty
// result all yield nil.
func (g *Geocoder) Reverse(ctx context.Context, lat, lng float64) *ReverseGeocode {
	if g == nil || g.indexName == "" {
		return nil
	}
	response, err := g.client.SearchPlaceIndexForPosition(ctx, &location.SearchPlaceIndexForPositionInput{
		IndexName:  aws.String(g.indexName),
		Position:   []float64{lng, lat},
		MaxResults: aws.Int32(1),
	})
	if err != nil {
		log.Warn().Err(err).Float64("lat", lat).Float64("lng", lng).Msg("reverse geocode failed")
		return nil
	}
	if len(response.Results) == 0 || response.Results[0].Place == nil {
		return nil
	}

	place := response.Results[0].Place
	geocode := &ReverseGeocode{
		Country:    aws.ToString(place.Country),
		Prefecture: aws.ToString(place.Region),
		City:       aws.ToString(place.Municipality),
		Label:      aws.ToString(place.Label),
	}
	if geocode.Label == "" && geocode.Country == "" && geocode.Prefecture == "" && geocode.City == "" {
		return nil
	}
	geocode.Label = strings.TrimSpace(geocode.Label)
	return geocode
}

// Package weather feeds outdoor condition sensors from an Open-Meteo
// compatible forecast service.
//
// One coordinator fetches the current conditions for the site's
// coordinates on a fixed cadence; temperature, humidity, and wind
// sensors share that single snapshot instead of issuing their own
// requests.
package weather

// Package aggregator fans a composite read out to several backend services
// concurrently and collects each sub-query's outcome independently. One
// failing or slow service never fails the whole aggregate.
package aggregator

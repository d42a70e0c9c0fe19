// Package model contains the durable records that flow through the pipeline:
// requests, approval records and worker results, together with the status
// state machines that guard their transitions.
//
// All mutation of these records happens through compare-and-set operations in
// the service/dao stores; the validators here define which transitions those
// operations may apply. Terminal statuses are immutable.
package model

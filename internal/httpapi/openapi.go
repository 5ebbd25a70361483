// Copyright 2025 James Ross
package httpapi

import "net/http"

const openAPISpec = `openapi: 3.0.3
info:
  title: Job Broker Control Plane
  description: Multi-tenant background job broker HTTP control plane
  version: 1.0.0
  license:
    name: MIT

servers:
  - url: http://localhost:8080
    description: Local development server

security:
  - apiKeyAuth: []

components:
  securitySchemes:
    apiKeyAuth:
      type: apiKey
      in: header
      name: x-api-key

tags:
  - name: jobs
    description: Job submission, lookup, listing, and lifecycle updates
  - name: queues
    description: Queue admin operations
  - name: applications
    description: Tenant (application) CRUD, master-only
  - name: subscriptions
    description: Application-scoped event fan-out rules
  - name: webhooks
    description: Durable application webhooks
  - name: schedules
    description: Cron/one-shot HTTP call schedules

paths:
  /health:
    get:
      summary: Liveness and backing-store connectivity check
      responses:
        "200":
          description: OK
  /api/jobs:
    post:
      tags: [jobs]
      summary: Submit a job onto a named queue
      responses:
        "201":
          description: Job accepted
        "403":
          description: Queue access denied
    get:
      tags: [jobs]
      summary: List jobs visible to the caller, filtered by queue/status/metadata
      parameters:
        - in: query
          name: queue
          schema: { type: string }
        - in: query
          name: status
          schema: { type: string }
        - in: query
          name: limit
          schema: { type: integer }
      responses:
        "200":
          description: Matching jobs
  /api/jobs/{id}:
    get:
      tags: [jobs]
      summary: Fetch a job snapshot
      parameters:
        - in: path
          name: id
          required: true
          schema: { type: string }
      responses:
        "200":
          description: Job snapshot
        "403":
          description: Job belongs to another application
        "404":
          description: Job not found
    put:
      tags: [jobs]
      summary: Apply a worker status/progress/result update
      parameters:
        - in: path
          name: id
          required: true
          schema: { type: string }
      responses:
        "200":
          description: Updated job
        "409":
          description: Invalid transition from a terminal status
  /api/jobs/{id}/webhook:
    post:
      tags: [jobs]
      summary: Register or merge per-job webhooks
      parameters:
        - in: path
          name: id
          required: true
          schema: { type: string }
      responses:
        "200":
          description: Webhooks registered
  /api/queues:
    get:
      tags: [queues]
      summary: List queues visible to the caller
      responses:
        "200": { description: OK }
    post:
      tags: [queues]
      summary: Materialize a queue
      responses:
        "201": { description: Created }
  /api/queues/stats:
    get:
      tags: [queues]
      summary: Stats for every queue visible to the caller
      responses:
        "200": { description: OK }
  /api/queues/{name}/stats:
    get:
      tags: [queues]
      summary: Stats for one queue
      parameters:
        - in: path
          name: name
          required: true
          schema: { type: string }
      responses:
        "200": { description: OK }
  /api/queues/{name}/pause:
    post:
      tags: [queues]
      summary: Pause a queue (master only)
      parameters:
        - in: path
          name: name
          required: true
          schema: { type: string }
      responses:
        "200": { description: OK }
        "403": { description: Requires master API key }
  /api/queues/{name}/resume:
    post:
      tags: [queues]
      summary: Resume a queue (master only)
      parameters:
        - in: path
          name: name
          required: true
          schema: { type: string }
      responses:
        "200": { description: OK }
  /api/queues/{name}/clean:
    post:
      tags: [queues]
      summary: Purge terminal jobs older than a grace period (master only)
      parameters:
        - in: path
          name: name
          required: true
          schema: { type: string }
      responses:
        "200": { description: OK }
  /api/applications:
    post:
      tags: [applications]
      summary: Create an application (master only)
      responses:
        "201": { description: Created }
    get:
      tags: [applications]
      summary: List applications (master only)
      responses:
        "200": { description: OK }
  /api/applications/{id}:
    get:
      tags: [applications]
      summary: Fetch an application (master only)
      parameters:
        - in: path
          name: id
          required: true
          schema: { type: string }
      responses:
        "200": { description: OK }
        "404": { description: Not found }
    patch:
      tags: [applications]
      summary: Update an application (master only)
      parameters:
        - in: path
          name: id
          required: true
          schema: { type: string }
      responses:
        "200": { description: OK }
    delete:
      tags: [applications]
      summary: Delete an application (master only)
      parameters:
        - in: path
          name: id
          required: true
          schema: { type: string }
      responses:
        "200": { description: OK }
  /api/subscriptions:
    post:
      tags: [subscriptions]
      summary: Create a subscription
      responses:
        "201": { description: Created }
    get:
      tags: [subscriptions]
      summary: List subscriptions for the caller's application
      responses:
        "200": { description: OK }
  /api/subscriptions/{id}:
    get:
      tags: [subscriptions]
      summary: Fetch a subscription
      parameters:
        - in: path
          name: id
          required: true
          schema: { type: string }
      responses:
        "200": { description: OK }
    put:
      tags: [subscriptions]
      summary: Update a subscription
      parameters:
        - in: path
          name: id
          required: true
          schema: { type: string }
      responses:
        "200": { description: OK }
    delete:
      tags: [subscriptions]
      summary: Delete a subscription
      parameters:
        - in: path
          name: id
          required: true
          schema: { type: string }
      responses:
        "200": { description: OK }
  /api/subscriptions/{id}/test:
    post:
      tags: [subscriptions]
      summary: Send a synthetic test delivery
      parameters:
        - in: path
          name: id
          required: true
          schema: { type: string }
      responses:
        "200": { description: OK }
  /api/webhooks:
    post:
      tags: [webhooks]
      summary: Create an application webhook
      responses:
        "201": { description: Created }
    get:
      tags: [webhooks]
      summary: List application webhooks
      responses:
        "200": { description: OK }
  /api/webhooks/{id}:
    get:
      tags: [webhooks]
      summary: Fetch an application webhook
      parameters:
        - in: path
          name: id
          required: true
          schema: { type: string }
      responses:
        "200": { description: OK }
    patch:
      tags: [webhooks]
      summary: Update an application webhook
      parameters:
        - in: path
          name: id
          required: true
          schema: { type: string }
      responses:
        "200": { description: OK }
    delete:
      tags: [webhooks]
      summary: Delete an application webhook
      parameters:
        - in: path
          name: id
          required: true
          schema: { type: string }
      responses:
        "200": { description: OK }
  /api/webhooks/{id}/test:
    post:
      tags: [webhooks]
      summary: Send a synthetic test delivery
      parameters:
        - in: path
          name: id
          required: true
          schema: { type: string }
      responses:
        "200": { description: OK }
  /api/webhooks/{id}/regenerate-secret:
    post:
      tags: [webhooks]
      summary: Rotate the HMAC signing secret
      parameters:
        - in: path
          name: id
          required: true
          schema: { type: string }
      responses:
        "200": { description: OK }
  /api/schedules:
    post:
      tags: [schedules]
      summary: Create a schedule (master only)
      responses:
        "201": { description: Created }
    get:
      tags: [schedules]
      summary: List schedules (master only)
      responses:
        "200": { description: OK }
  /api/schedules/{id}:
    get:
      tags: [schedules]
      summary: Fetch a schedule (master only)
      parameters:
        - in: path
          name: id
          required: true
          schema: { type: string }
      responses:
        "200": { description: OK }
    put:
      tags: [schedules]
      summary: Update a schedule (master only)
      parameters:
        - in: path
          name: id
          required: true
          schema: { type: string }
      responses:
        "200": { description: OK }
    delete:
      tags: [schedules]
      summary: Delete a schedule (master only)
      parameters:
        - in: path
          name: id
          required: true
          schema: { type: string }
      responses:
        "200": { description: OK }
  /api/schedules/{id}/toggle:
    patch:
      tags: [schedules]
      summary: Enable or disable a schedule (master only)
      parameters:
        - in: path
          name: id
          required: true
          schema: { type: string }
      responses:
        "200": { description: OK }
  /api/schedules/{id}/execute:
    post:
      tags: [schedules]
      summary: Run a schedule's HTTP target immediately, bypassing the timer (master only)
      parameters:
        - in: path
          name: id
          required: true
          schema: { type: string }
      responses:
        "200": { description: Execution result }
`

func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	w.Write([]byte(openAPISpec))
}
